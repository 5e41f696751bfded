package common

import "fmt"

// OutputFormat selects which artifacts a comparison writes to disk
type OutputFormat struct {
	SavePNG     bool // before/after/heatmap PNGs
	SaveGeoTIFF bool // georeferenced mosaics and heatmap
}

// ParseOutputFormat converts a format string to OutputFormat
// Accepted values: "png", "geotiff", "both"
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch format {
	case "png":
		return OutputFormat{SavePNG: true}, nil
	case "geotiff":
		return OutputFormat{SaveGeoTIFF: true}, nil
	case "both":
		return OutputFormat{SavePNG: true, SaveGeoTIFF: true}, nil
	default:
		return OutputFormat{}, fmt.Errorf("invalid format: %s (must be 'png', 'geotiff', or 'both')", format)
	}
}

// String returns the string representation of the output format
func (f OutputFormat) String() string {
	switch {
	case f.SavePNG && f.SaveGeoTIFF:
		return "both"
	case f.SavePNG:
		return "png"
	case f.SaveGeoTIFF:
		return "geotiff"
	}
	return "none"
}
