// Package geotiff writes uncompressed RGBA GeoTIFFs georeferenced in
// EPSG:3857
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"sort"

	"github.com/batikanor/geoproof/internal/geo"
)

const (
	dataTypeByte     = 1
	dataTypeASCII    = 2
	dataTypeShort    = 3
	dataTypeLong     = 4
	dataTypeRational = 5
	dataTypeDouble   = 12

	TagImageWidth                = 256
	TagImageLength               = 257
	TagBitsPerSample             = 258
	TagCompression               = 259
	TagPhotometricInterpretation = 262
	TagImageDescription          = 270
	TagStripOffsets              = 273
	TagSamplesPerPixel           = 277
	TagRowsPerStrip              = 278
	TagStripByteCounts           = 279
	TagXResolution               = 282
	TagYResolution               = 283
	TagResolutionUnit            = 296
	TagSoftware                  = 305
	TagExtraSamples              = 338

	// GeoTIFF tags
	TagModelPixelScale = 33550
	TagModelTiepoint   = 33922
	TagGeoKeyDirectory = 34735
	TagGeoDoubleParams = 34736
	TagGeoAsciiParams  = 34737
)

// GeoKey ids
const (
	keyGTModelType     = 1024
	keyGTRasterType    = 1025
	keyProjectedCSType = 3072
	modelTypeProjected = 1
	rasterPixelIsArea  = 1
)

var enc = binary.LittleEndian

// Georeference places the top-left pixel corner and pixel size in
// projected meters
type Georeference struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
	EPSG        int
	Description string
}

// ForBBox georeferences a width x height image covering b in Web Mercator
func ForBBox(b geo.BBox, width, height int) (Georeference, error) {
	if err := b.Validate(); err != nil {
		return Georeference{}, err
	}
	if width <= 0 || height <= 0 {
		return Georeference{}, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	left, top, right, bottom := geo.PixelRect(b, 0)
	tl := geo.WorldPixelToMercator(left, top, 0)
	br := geo.WorldPixelToMercator(right, bottom, 0)
	return Georeference{
		OriginX:     tl.X,
		OriginY:     tl.Y,
		PixelWidth:  (br.X - tl.X) / float64(width),
		PixelHeight: (tl.Y - br.Y) / float64(height),
		EPSG:        geo.EpsgWebMercator,
	}, nil
}

// Tags returns the GeoTIFF tags for g
func (g Georeference) Tags() map[uint16]any {
	epsg := g.EPSG
	if epsg == 0 {
		epsg = geo.EpsgWebMercator
	}
	tags := map[uint16]any{
		TagModelPixelScale: []float64{g.PixelWidth, g.PixelHeight, 0},
		TagModelTiepoint:   []float64{0, 0, 0, g.OriginX, g.OriginY, 0},
		TagGeoKeyDirectory: []uint16{
			1, 1, 0, 3,
			keyGTModelType, 0, 1, modelTypeProjected,
			keyGTRasterType, 0, 1, rasterPixelIsArea,
			keyProjectedCSType, 0, 1, uint16(epsg),
		},
	}
	if g.Description != "" {
		tags[TagImageDescription] = g.Description
	}
	return tags
}

// Encode writes m as a GeoTIFF using g
func Encode(w io.Writer, m image.Image, g Georeference) error {
	return EncodeWithTags(w, m, g.Tags())
}

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

// EncodeWithTags writes m as an uncompressed, single-strip RGBA TIFF with
// unassociated alpha. extraTags values may be []uint16, []float64 or
// string.
func EncodeWithTags(w io.Writer, m image.Image, extraTags map[uint16]any) error {
	bounds := m.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("empty image")
	}

	pixels := nrgbaPixels(m)

	var entries []ifdEntry
	add := func(tag, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	add(TagImageWidth, dataTypeLong, 1, enc32(uint32(width)))
	add(TagImageLength, dataTypeLong, 1, enc32(uint32(height)))
	add(TagBitsPerSample, dataTypeShort, 4, enc16s([]uint16{8, 8, 8, 8}))
	add(TagCompression, dataTypeShort, 1, enc16s([]uint16{1}))
	add(TagPhotometricInterpretation, dataTypeShort, 1, enc16s([]uint16{2}))
	add(TagSamplesPerPixel, dataTypeShort, 1, enc16s([]uint16{4}))
	add(TagRowsPerStrip, dataTypeLong, 1, enc32(uint32(height)))
	add(TagXResolution, dataTypeRational, 1, encRational(72, 1))
	add(TagYResolution, dataTypeRational, 1, encRational(72, 1))
	add(TagResolutionUnit, dataTypeShort, 1, enc16s([]uint16{2}))
	add(TagSoftware, dataTypeASCII, 9, []byte("geoproof\x00"))
	add(TagExtraSamples, dataTypeShort, 1, enc16s([]uint16{2}))
	// patched below once the layout is known
	add(TagStripOffsets, dataTypeLong, 1, make([]byte, 4))
	add(TagStripByteCounts, dataTypeLong, 1, enc32(uint32(len(pixels))))

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			add(tag, dataTypeShort, uint32(len(v)), enc16s(v))
		case []float64:
			add(tag, dataTypeDouble, uint32(len(v)), encDoubles(v))
		case string:
			b := append([]byte(v), 0)
			add(tag, dataTypeASCII, uint32(len(b)), b)
		case []byte:
			add(tag, dataTypeByte, uint32(len(v)), v)
		default:
			return fmt.Errorf("unsupported tag value type %T for tag %d", val, tag)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })
	for i := 1; i < len(entries); i++ {
		if entries[i].tag == entries[i-1].tag {
			return fmt.Errorf("duplicate tag %d", entries[i].tag)
		}
	}

	// Layout: header(8) | IFD | out-of-line values | pixels
	ifdSize := 2 + 12*len(entries) + 4
	valueOffset := 8 + ifdSize

	var values bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) <= 4 {
			continue
		}
		// values must start on a word boundary
		if (valueOffset+values.Len())%2 == 1 {
			values.WriteByte(0)
		}
		off := uint32(valueOffset + values.Len())
		values.Write(e.data)
		e.data = enc32(off)
	}
	if (valueOffset+values.Len())%2 == 1 {
		values.WriteByte(0)
	}
	pixelsOffset := uint32(valueOffset + values.Len())
	for i := range entries {
		if entries[i].tag == TagStripOffsets {
			entries[i].data = enc32(pixelsOffset)
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00})
	binary.Write(&buf, enc, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, enc, e.tag)
		binary.Write(&buf, enc, e.datatype)
		binary.Write(&buf, enc, e.count)
		var val [4]byte
		copy(val[:], e.data)
		buf.Write(val[:])
	}
	binary.Write(&buf, enc, uint32(0))
	values.WriteTo(&buf)

	if _, err := buf.WriteTo(w); err != nil {
		return err
	}
	_, err := w.Write(pixels)
	return err
}

// nrgbaPixels returns the non-premultiplied RGBA bytes of m
func nrgbaPixels(m image.Image) []byte {
	b := m.Bounds()
	if n, ok := m.(*image.NRGBA); ok {
		out := make([]byte, 0, b.Dx()*b.Dy()*4)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := n.PixOffset(b.Min.X, y)
			out = append(out, n.Pix[i:i+b.Dx()*4]...)
		}
		return out
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, m.At(x, y))
		}
	}
	return dst.Pix
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	enc.PutUint32(b[:4], num)
	enc.PutUint32(b[4:], den)
	return b
}
