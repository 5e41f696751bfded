package imagery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/HugoSmits86/nativewebp"
	xdraw "golang.org/x/image/draw"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
)

// Preview encodings
const (
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// PreviewRequest crops a single georeferenced image (for example a catalog
// thumbnail) to a target box
type PreviewRequest struct {
	URL       string
	ImageBBox geo.BBox // footprint of the whole image
	Target    geo.BBox
}

// EncodePreview encodes img as PNG or lossless WebP
func EncodePreview(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: png encode: %v", common.ErrRenderTarget, err)
		}
	case FormatWebP:
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("%w: webp encode: %v", common.ErrRenderTarget, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported preview format %q", common.ErrRenderTarget, format)
	}
	return buf.Bytes(), nil
}

// Resize scales src to exactly w x h
func Resize(src *image.NRGBA, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// fitWidth downscales src so its width does not exceed maxWidth, keeping the
// aspect ratio. The result always owns its pixels and starts at (0,0).
func fitWidth(src *image.NRGBA, maxWidth int) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if maxWidth <= 0 || w <= maxWidth {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
		return dst
	}
	scale := float64(maxWidth) / float64(w)
	outH := max(1, int(math.Round(float64(h)*scale)))
	return Resize(src, maxWidth, outH)
}

// CropPreview fetches a whole-image preview and crops it to req.Target using
// a linear mapping of the image footprint onto its pixels
func (l *Loader) CropPreview(ctx context.Context, req PreviewRequest) (MosaicResult, error) {
	if err := req.Target.Validate(); err != nil {
		return MosaicResult{}, err
	}
	if err := req.ImageBBox.Validate(); err != nil {
		return MosaicResult{}, err
	}
	area, ok := req.Target.Intersect(req.ImageBBox)
	if !ok {
		return MosaicResult{}, fmt.Errorf("%w: target %s outside preview footprint %s", common.ErrCoverage, req.Target, req.ImageBBox)
	}

	data, err := l.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return MosaicResult{}, err
	}
	img, err := decodeTile(data)
	if err != nil {
		return MosaicResult{}, err
	}

	b := img.Bounds()
	spanLon := req.ImageBBox.MaxLon - req.ImageBBox.MinLon
	spanLat := req.ImageBBox.MaxLat - req.ImageBBox.MinLat
	x0 := b.Min.X + int(math.Floor((area.MinLon-req.ImageBBox.MinLon)/spanLon*float64(b.Dx())))
	x1 := b.Min.X + int(math.Ceil((area.MaxLon-req.ImageBBox.MinLon)/spanLon*float64(b.Dx())))
	y0 := b.Min.Y + int(math.Floor((req.ImageBBox.MaxLat-area.MaxLat)/spanLat*float64(b.Dy())))
	y1 := b.Min.Y + int(math.Ceil((req.ImageBBox.MaxLat-area.MinLat)/spanLat*float64(b.Dy())))

	rect := image.Rect(x0, y0, max(x1, x0+1), max(y1, y0+1)).Intersect(b)
	if rect.Empty() {
		return MosaicResult{}, fmt.Errorf("%w: preview crop is empty", common.ErrCoverage)
	}

	cropped := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Draw(cropped, cropped.Bounds(), img, rect.Min, xdraw.Src)

	out := fitWidth(cropped, l.cfg.MaxOutputWidth)
	preview, err := EncodePreview(out, l.cfg.PreviewFormat)
	if err != nil {
		return MosaicResult{}, err
	}

	return MosaicResult{
		Image:         out,
		UsedZoom:      -1,
		Preview:       preview,
		PreviewFormat: previewFormat(l.cfg.PreviewFormat),
		TotalTiles:    1,
		Attempts:      1,
		Source:        SourcePreview,
		BBox:          area,
	}, nil
}

func previewFormat(f string) string {
	if f == "" {
		return FormatPNG
	}
	return f
}
