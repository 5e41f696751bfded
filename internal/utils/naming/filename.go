package naming

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/batikanor/geoproof/internal/geo"
)

// ComparisonBaseName names the outputs of one comparison
// Format: {before}_vs_{after}_{quadkey}_z{zoom}_{bbox}
func ComparisonBaseName(beforeLabel, afterLabel string, bbox geo.BBox, zoom int) string {
	return fmt.Sprintf("%s_vs_%s_%s_z%d_%s",
		SanitizeLabel(beforeLabel, "before"),
		SanitizeLabel(afterLabel, "after"),
		QuadkeyForBBox(bbox, zoom),
		zoom,
		BBoxString(bbox))
}

// OutputFilename appends the artifact kind and extension to a base name,
// e.g. base_heatmap.tif
func OutputFilename(base, kind, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s_%s.%s", base, kind, ext)
}

// SanitizeLabel keeps letters, digits, '-' and '.'; other runs become a
// single '-'. An empty result falls back to def.
func SanitizeLabel(label, def string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return def
	}
	return s
}
