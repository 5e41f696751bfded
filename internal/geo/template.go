package geo

import (
	"strconv"
	"strings"
)

// FillTemplate substitutes a tile index into a URL template. Both XYZ
// placeholders ({z} {x} {y}, plus {-y} for TMS) and WMTS placeholders
// ({TileMatrix} {TileCol} {TileRow}) are understood.
func FillTemplate(tmpl string, t TileIndex) string {
	z := strconv.Itoa(t.Z)
	x := strconv.Itoa(t.X)
	y := strconv.Itoa(t.Y)
	tmsY := strconv.Itoa((1 << t.Z) - 1 - t.Y)
	r := strings.NewReplacer(
		"{z}", z,
		"{x}", x,
		"{y}", y,
		"{-y}", tmsY,
		"{TileMatrix}", z,
		"{TileCol}", x,
		"{TileRow}", y,
	)
	return r.Replace(tmpl)
}
