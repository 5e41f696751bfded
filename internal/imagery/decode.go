package imagery

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/batikanor/geoproof/internal/common"
)

// decodeTile decodes JPEG, PNG or WebP tile bytes
func decodeTile(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", common.ErrTileFetch, err)
	}
	return img, nil
}

// isBlankTile reports whether a decoded tile is a placeholder: mostly white,
// mostly black, or nearly uniform. Providers serve such tiles where they have
// no imagery instead of returning 404.
func isBlankTile(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Dx() < 10 || bounds.Dy() < 10 {
		return true
	}

	// Sample an 8x8 grid inside the tile
	stepX := max(bounds.Dx()/8, 1)
	stepY := max(bounds.Dy()/8, 1)

	var samples [][3]uint64
	whiteCount, blackCount := 0, 0
	var totalR, totalG, totalB uint64

	for y := bounds.Min.Y + stepY; y < bounds.Max.Y-stepY; y += stepY {
		for x := bounds.Min.X + stepX; x < bounds.Max.X-stepX; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			samples = append(samples, [3]uint64{uint64(r), uint64(g), uint64(b)})
			totalR += uint64(r)
			totalG += uint64(g)
			totalB += uint64(b)

			// RGBA values are 0-65535
			if r > 63000 && g > 63000 && b > 63000 {
				whiteCount++
			}
			if r < 2500 && g < 2500 && b < 2500 {
				blackCount++
			}
		}
	}

	n := len(samples)
	if n == 0 {
		return false
	}
	if whiteCount*100/n > 90 || blackCount*100/n > 90 {
		return true
	}

	avg := [3]uint64{totalR / uint64(n), totalG / uint64(n), totalB / uint64(n)}
	var variance uint64
	for _, s := range samples {
		for c := 0; c < 3; c++ {
			d := absDiff64(s[c], avg[c])
			variance += d * d
		}
	}
	// ~1000^2 in 16-bit channel space reads as a flat fill
	return variance/(3*uint64(n)) < 2000000
}

func absDiff64(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
