package naming

import (
	"fmt"
	"math"
	"strings"

	"github.com/batikanor/geoproof/internal/geo"
)

// Quadkey returns the Bing-style quadkey of a tile
func Quadkey(t geo.TileIndex) string {
	var quadkey strings.Builder
	for i := t.Z; i > 0; i-- {
		digit := 0
		mask := 1 << (i - 1)
		if (t.X & mask) != 0 {
			digit++
		}
		if (t.Y & mask) != 0 {
			digit += 2
		}
		quadkey.WriteByte(byte('0' + digit))
	}
	return quadkey.String()
}

// QuadkeyForBBox returns the quadkey of the tile under the bbox center
func QuadkeyForBBox(b geo.BBox, zoom int) string {
	lon, lat := b.Center()
	return Quadkey(geo.TileForLonLat(lon, lat, zoom))
}

// SanitizeCoordinate formats a coordinate for filenames: hemisphere letter
// instead of a sign and 'p' instead of the decimal point
func SanitizeCoordinate(coord float64, isLat bool) string {
	var dir string
	switch {
	case isLat && coord < 0:
		dir = "S"
	case isLat:
		dir = "N"
	case coord < 0:
		dir = "W"
	default:
		dir = "E"
	}
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}

// BBoxString is the short filename form of a bbox: S-N_W-E
func BBoxString(b geo.BBox) string {
	return fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(b.MinLat, true),
		SanitizeCoordinate(b.MaxLat, true),
		SanitizeCoordinate(b.MinLon, false),
		SanitizeCoordinate(b.MaxLon, false))
}
