package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/wayback"
)

// TileFetcher loads raw tile bytes
type TileFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// VersionLookup resolves a Wayback release id
type VersionLookup interface {
	Version(ctx context.Context, id int) (wayback.Version, error)
}

var (
	transparentOnce sync.Once
	transparentPNG  []byte
)

func transparentTile() []byte {
	transparentOnce.Do(func() {
		var buf bytes.Buffer
		png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, geo.TileSize, geo.TileSize)))
		transparentPNG = buf.Bytes()
	})
	return transparentPNG
}

// Tile handles GET /tiles/:source/:z/:x/:y. Source is a Wayback release id
// or a configured source name. Upstream failures are served as a
// transparent tile so map clients keep rendering.
func (h *Handler) Tile(c *gin.Context) {
	t, err := parseTile(c.Param("z"), c.Param("x"), c.Param("y"))
	if err != nil {
		h.fail(c, err)
		return
	}
	template, err := h.tileTemplate(c.Request.Context(), c.Param("source"))
	if err != nil {
		h.fail(c, err)
		return
	}

	data, err := h.tiles.Fetch(c.Request.Context(), geo.FillTemplate(template, t))
	if err != nil {
		if !errors.Is(err, common.ErrTileFetch) {
			h.fail(c, err)
			return
		}
		h.logger.Debug("serving transparent tile", "tile", t.String(), "error", err)
		c.Header("X-Tile-Status", "missing")
		c.Data(http.StatusOK, "image/png", transparentTile())
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (h *Handler) tileTemplate(ctx context.Context, source string) (string, error) {
	if id, err := strconv.Atoi(source); err == nil {
		if h.versions == nil {
			return "", fmt.Errorf("%w: no release catalog configured", common.ErrInvalidRequest)
		}
		v, err := h.versions.Version(ctx, id)
		if err != nil {
			return "", err
		}
		return v.TileURLTemplate, nil
	}
	side, err := h.resolveSource(sideBody{Source: source})
	if err != nil {
		return "", err
	}
	return side.Template, nil
}

func parseTile(zs, xs, ys string) (geo.TileIndex, error) {
	z, errZ := strconv.Atoi(zs)
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if err := errors.Join(errZ, errX, errY); err != nil {
		return geo.TileIndex{}, fmt.Errorf("%w: invalid tile coordinates: %v", common.ErrInvalidRequest, err)
	}
	if err := geo.ValidateZoom(z); err != nil {
		return geo.TileIndex{}, err
	}
	if last := 1<<z - 1; x < 0 || y < 0 || x > last || y > last {
		return geo.TileIndex{}, fmt.Errorf("%w: tile %d/%d/%d outside the grid", common.ErrInvalidRequest, z, x, y)
	}
	return geo.TileIndex{X: x, Y: y, Z: z}, nil
}
