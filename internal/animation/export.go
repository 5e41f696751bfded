// Package animation renders before/after comparisons as short flicker
// animations (Motion JPEG AVI or GIF)
package animation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/icza/mjpeg"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Output formats
const (
	FormatAVI = "avi"
	FormatGIF = "gif"
)

// Options controls rendering
type Options struct {
	// Width and Height of the output; zero uses the first frame's size
	Width  int
	Height int

	FrameDelay float64 // seconds each frame is shown
	Quality    int     // JPEG quality for AVI frames
	Format     string  // avi or gif

	ShowLabels    bool
	LabelPosition string // top-left, top-right, bottom-left, bottom-right
	LabelColor    color.RGBA
	LabelShadow   bool
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		FrameDelay:    0.8,
		Quality:       90,
		Format:        FormatAVI,
		ShowLabels:    true,
		LabelPosition: "bottom-right",
		LabelColor:    color.RGBA{255, 255, 255, 255},
		LabelShadow:   true,
	}
}

// Frame is one image of the animation
type Frame struct {
	Image image.Image
	Label string
}

// Exporter renders frames to disk
type Exporter struct {
	opts   Options
	face   font.Face
	logger *slog.Logger
}

// NewExporter creates an exporter using the built-in bitmap font
func NewExporter(opts Options, logger *slog.Logger) *Exporter {
	def := DefaultOptions()
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = def.FrameDelay
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.LabelColor.A == 0 {
		opts.LabelColor = def.LabelColor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{opts: opts, face: basicfont.Face7x13, logger: logger.With("component", "animation")}
}

// ComparisonFrames builds the before, after and change-overlay frames
func ComparisonFrames(before, after, heatmap image.Image, beforeLabel, afterLabel string) []Frame {
	overlay := image.NewRGBA(after.Bounds())
	draw.Draw(overlay, overlay.Bounds(), after, after.Bounds().Min, draw.Src)
	if heatmap != nil {
		draw.Draw(overlay, overlay.Bounds(), heatmap, heatmap.Bounds().Min, draw.Over)
	}

	changeLabel := "changes"
	if afterLabel != "" {
		changeLabel = afterLabel + " changes"
	}
	return []Frame{
		{Image: before, Label: beforeLabel},
		{Image: after, Label: afterLabel},
		{Image: overlay, Label: changeLabel},
	}
}

// ProcessFrame scales src to the output size and draws its label
func (e *Exporter) ProcessFrame(src image.Image, label string, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	if e.opts.ShowLabels && label != "" {
		e.drawLabel(out, label)
	}
	return out
}

func (e *Exporter) drawLabel(dst *image.RGBA, label string) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(e.opts.LabelColor),
		Face: e.face,
	}

	bounds, _ := drawer.BoundString(label)
	textWidth := (bounds.Max.X - bounds.Min.X).Ceil()
	textHeight := (bounds.Max.Y - bounds.Min.Y).Ceil()
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	padding := 8

	var x, y int
	switch e.opts.LabelPosition {
	case "top-left":
		x, y = padding, padding+textHeight
	case "top-right":
		x, y = w-textWidth-padding, padding+textHeight
	case "bottom-left":
		x, y = padding, h-padding
	default:
		x, y = w-textWidth-padding, h-padding
	}

	if e.opts.LabelShadow {
		shadow := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.RGBA{0, 0, 0, 180}),
			Face: e.face,
			Dot:  fixed.P(x+1, y+1),
		}
		shadow.DrawString(label)
	}

	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(label)
}

// Export writes frames to outputPath, fixing its extension to match the
// format, and returns the path written
func (e *Exporter) Export(frames []Frame, outputPath string) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames to export")
	}
	w, h := e.opts.Width, e.opts.Height
	if w <= 0 || h <= 0 {
		b := frames[0].Image.Bounds()
		w, h = b.Dx(), b.Dy()
	}
	// JPEG macroblocks want even dimensions
	w, h = w&^1, h&^1
	if w == 0 || h == 0 {
		return "", fmt.Errorf("frame too small: %dx%d", w, h)
	}

	ext := "." + e.opts.Format
	if !strings.EqualFold(filepath.Ext(outputPath), ext) {
		outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ext
	}

	var err error
	switch e.opts.Format {
	case FormatAVI:
		err = e.exportMotionJPEG(frames, outputPath, w, h)
	case FormatGIF:
		err = e.exportGIF(frames, outputPath, w, h)
	default:
		err = fmt.Errorf("unsupported animation format %q", e.opts.Format)
	}
	if err != nil {
		return "", err
	}
	e.logger.Info("animation exported", "path", outputPath, "frames", len(frames))
	return outputPath, nil
}

func (e *Exporter) exportMotionJPEG(frames []Frame, outputPath string, w, h int) error {
	fps := int(1.0 / e.opts.FrameDelay)
	fps = max(1, min(fps, 30))

	writer, err := mjpeg.New(outputPath, int32(w), int32(h), int32(fps))
	if err != nil {
		return fmt.Errorf("failed to create video writer: %w", err)
	}

	for i, frame := range frames {
		img := e.ProcessFrame(frame.Image, frame.Label, w, h)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.opts.Quality}); err != nil {
			writer.Close()
			return fmt.Errorf("failed to encode frame %d as JPEG: %w", i, err)
		}
		// at fps >= 1 each frame repeats to last FrameDelay seconds
		repeats := max(1, int(e.opts.FrameDelay*float64(fps)+0.5))
		for r := 0; r < repeats; r++ {
			if err := writer.AddFrame(buf.Bytes()); err != nil {
				writer.Close()
				return fmt.Errorf("failed to add frame %d: %w", i, err)
			}
		}
	}
	return writer.Close()
}

func (e *Exporter) exportGIF(frames []Frame, outputPath string, w, h int) error {
	delay := max(1, int(e.opts.FrameDelay*100))

	anim := &gif.GIF{Config: image.Config{Width: w, Height: h}}
	for _, frame := range frames {
		img := e.ProcessFrame(frame.Image, frame.Label, w, h)
		paletted := image.NewPaletted(img.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, image.Point{})
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode GIF: %w", err)
	}
	return f.Close()
}
