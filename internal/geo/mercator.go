package geo

import "math"

const (
	// Equator is the Earth's equatorial circumference in Web Mercator meters
	Equator = 40075016.685578

	// EpsgWebMercator is the EPSG code of spherical Web Mercator
	EpsgWebMercator = 3857
)

// Mercator is a coordinate in EPSG:3857 meters
type Mercator struct {
	X float64 // meters east
	Y float64 // meters north
}

// WorldPixelToMercator converts a world pixel at zoom to EPSG:3857 meters
func WorldPixelToMercator(px, py float64, zoom int) Mercator {
	size := worldSize(zoom)
	return Mercator{
		X: (px/size - 0.5) * Equator,
		Y: (0.5 - py/size) * Equator,
	}
}

// ToLonLat converts Web Mercator meters to WGS84 degrees
func (m Mercator) ToLonLat() (lon, lat float64) {
	lon = m.X / Equator * 360.0
	lat = math.Atan(math.Sinh(m.Y/Equator*2*math.Pi)) * 180.0 / math.Pi
	return lon, lat
}
