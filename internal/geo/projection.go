package geo

import (
	"fmt"
	"math"

	"github.com/batikanor/geoproof/internal/common"
)

const (
	// TileSize is the edge length of a map tile in pixels
	TileSize = 256

	MinZoom = 0
	MaxZoom = 24

	// MaxLatitude is the Web Mercator latitude limit
	MaxLatitude = 85.05112878
)

// TileIndex addresses one XYZ tile (Y grows southward)
type TileIndex struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// String returns "z/x/y"
func (t TileIndex) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Bounds returns the WGS84 footprint of the tile
func (t TileIndex) Bounds() BBox {
	minLon, maxLat := WorldPixelToLonLat(float64(t.X*TileSize), float64(t.Y*TileSize), t.Z)
	maxLon, minLat := WorldPixelToLonLat(float64((t.X+1)*TileSize), float64((t.Y+1)*TileSize), t.Z)
	return BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
}

// TileRange is the inclusive block of tiles covering a bbox at one zoom
type TileRange struct {
	Z      int
	X0, Y0 int
	X1, Y1 int
	TilesX int
	TilesY int
}

// Count returns the number of tiles in the range
func (r TileRange) Count() int {
	return r.TilesX * r.TilesY
}

// Tiles lists the range row by row, north to south
func (r TileRange) Tiles() []TileIndex {
	tiles := make([]TileIndex, 0, r.Count())
	for y := r.Y0; y <= r.Y1; y++ {
		for x := r.X0; x <= r.X1; x++ {
			tiles = append(tiles, TileIndex{X: x, Y: y, Z: r.Z})
		}
	}
	return tiles
}

// PixelOrigin returns the world pixel coordinate of the range's top-left corner
func (r TileRange) PixelOrigin() (x, y float64) {
	return float64(r.X0 * TileSize), float64(r.Y0 * TileSize)
}

// worldSize returns the world extent in pixels at zoom
func worldSize(zoom int) float64 {
	return float64(TileSize) * math.Exp2(float64(zoom))
}

// LonLatToWorldPixel projects a WGS84 point to spherical Web Mercator world
// pixels at zoom. Latitude is clamped to ±MaxLatitude.
func LonLatToWorldPixel(lon, lat float64, zoom int) (x, y float64) {
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	size := worldSize(zoom)
	x = (lon + 180) / 360 * size
	sinLat := math.Sin(lat * math.Pi / 180)
	y = (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * size
	return x, y
}

// WorldPixelToLonLat is the inverse of LonLatToWorldPixel
func WorldPixelToLonLat(x, y float64, zoom int) (lon, lat float64) {
	size := worldSize(zoom)
	lon = x/size*360 - 180
	n := math.Pi - 2*math.Pi*y/size
	lat = 180 / math.Pi * math.Atan(math.Sinh(n))
	return lon, lat
}

// WorldPixelToTile returns the tile containing a world pixel
func WorldPixelToTile(x, y float64) (tx, ty int) {
	return int(math.Floor(x / TileSize)), int(math.Floor(y / TileSize))
}

// TileForLonLat returns the tile containing a point, clamped to the grid
func TileForLonLat(lon, lat float64, zoom int) TileIndex {
	x, y := WorldPixelToTile(LonLatToWorldPixel(lon, lat, zoom))
	last := (1 << zoom) - 1
	return TileIndex{X: clamp(x, 0, last), Y: clamp(y, 0, last), Z: zoom}
}

// PixelRect returns the bbox corners in world pixels: top-left then bottom-right
func PixelRect(b BBox, zoom int) (left, top, right, bottom float64) {
	left, top = LonLatToWorldPixel(b.MinLon, b.MaxLat, zoom)
	right, bottom = LonLatToWorldPixel(b.MaxLon, b.MinLat, zoom)
	return left, top, right, bottom
}

// BBoxToTileRange computes the tiles covering b at zoom. The range is always
// at least one tile in each direction.
func BBoxToTileRange(b BBox, zoom int) (TileRange, error) {
	if err := b.Validate(); err != nil {
		return TileRange{}, err
	}
	if err := ValidateZoom(zoom); err != nil {
		return TileRange{}, err
	}

	left, top, right, bottom := PixelRect(b, zoom)
	last := (1 << zoom) - 1

	x0 := clamp(int(math.Floor(left/TileSize)), 0, last)
	y0 := clamp(int(math.Floor(top/TileSize)), 0, last)
	x1 := clamp(int(math.Ceil(right/TileSize))-1, 0, last)
	y1 := clamp(int(math.Ceil(bottom/TileSize))-1, 0, last)

	// Both latitudes may clamp to the same Mercator limit
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}

	return TileRange{
		Z:      zoom,
		X0:     x0,
		Y0:     y0,
		X1:     x1,
		Y1:     y1,
		TilesX: x1 - x0 + 1,
		TilesY: y1 - y0 + 1,
	}, nil
}

// ValidateZoom checks zoom against [MinZoom, MaxZoom]
func ValidateZoom(zoom int) error {
	if zoom < MinZoom || zoom > MaxZoom {
		return fmt.Errorf("%w: zoom level %d out of range [%d, %d]", common.ErrInvalidRequest, zoom, MinZoom, MaxZoom)
	}
	return nil
}

// ClampZoom rounds a fractional zoom and clamps it to the valid range
func ClampZoom(z float64) int {
	if math.IsNaN(z) {
		return MinZoom
	}
	return clamp(int(math.Round(math.Max(-1, math.Min(z, MaxZoom+1)))), MinZoom, MaxZoom)
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
