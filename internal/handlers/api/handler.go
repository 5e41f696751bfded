package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/batikanor/geoproof/internal/common"
	"github.com/batikanor/geoproof/internal/compare"
	"github.com/batikanor/geoproof/internal/config"
	"github.com/batikanor/geoproof/internal/diff"
	"github.com/batikanor/geoproof/internal/geo"
	"github.com/batikanor/geoproof/internal/taskqueue"
	"github.com/batikanor/geoproof/internal/wayback"
)

// Comparer is the service behind the API
type Comparer interface {
	Compare(ctx context.Context, req compare.Request) (compare.Result, error)
	Timeline(ctx context.Context, req compare.TimelineRequest) (wayback.Timeline, error)
	Candidates(ctx context.Context, req compare.CandidateRequest) (compare.CandidateResult, error)
}

// Handler handles HTTP requests
type Handler struct {
	svc      Comparer
	sources  []config.Source
	tasks    TaskQueue
	tiles    TileFetcher
	versions VersionLookup
	sessions *sessions
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Comparer, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		svc:      svc,
		sources:  opts.Sources,
		tasks:    opts.Tasks,
		tiles:    opts.Tiles,
		versions: opts.Versions,
		sessions: newSessions(opts.SessionLimit, opts.SessionTTL, func() *compareSession {
			return compare.NewSession(svc.Compare)
		}),
		logger: opts.Logger.With("component", "api"),
	}
}

// sideBody is one side of a comparison. Source names a configured tile
// service and fills Template.
type sideBody struct {
	compare.Side
	Source string `json:"source,omitempty"`
}

type compareBody struct {
	BBox              geo.BBox      `json:"bbox"`
	Zoom              float64       `json:"zoom,omitempty"`
	Before            sideBody      `json:"before"`
	After             sideBody      `json:"after"`
	Diff              *diff.Options `json:"diff,omitempty"`
	AllowMissingTiles bool          `json:"allowMissingTiles,omitempty"`
}

// Compare handles POST /v1/compare
func (h *Handler) Compare(c *gin.Context) {
	var body compareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}

	req, err := h.compareRequest(body)
	if err != nil {
		h.fail(c, err)
		return
	}

	var res compare.Result
	if id := c.GetHeader(SessionHeader); id != "" {
		res, err = h.sessions.get(id).Run(c.Request.Context(), req)
	} else {
		res, err = h.svc.Compare(c.Request.Context(), req)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelCompare handles DELETE /v1/compare, stopping the session's run
func (h *Handler) CancelCompare(c *gin.Context) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": SessionHeader + " header is required"})
		return
	}
	if sess, ok := h.sessions.peek(id); ok {
		sess.Cancel()
	}
	c.Status(http.StatusNoContent)
}

// Timeline handles GET /v1/timeline?bbox=...&zoom=&limit=
func (h *Handler) Timeline(c *gin.Context) {
	bbox, err := geo.ParseBBox(c.Query("bbox"))
	if err != nil {
		h.fail(c, err)
		return
	}
	zoom, err := queryInt(c, "zoom")
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.fail(c, err)
		return
	}

	tl, err := h.svc.Timeline(c.Request.Context(), compare.TimelineRequest{BBox: bbox, Zoom: zoom, Limit: limit})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tl)
}

// Candidates handles GET /v1/candidates?bbox=...&date=YYYY-MM-DD
func (h *Handler) Candidates(c *gin.Context) {
	bbox, err := geo.ParseBBox(c.Query("bbox"))
	if err != nil {
		h.fail(c, err)
		return
	}
	dateStr := c.Query("date")
	if dateStr == "" {
		h.fail(c, fmt.Errorf("%w: date parameter is required", common.ErrInvalidRequest))
		return
	}
	target, err := common.ParseFlexibleDate(dateStr)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
		return
	}

	req := compare.CandidateRequest{
		BBox:       bbox,
		Target:     target,
		Collection: c.Query("collection"),
	}
	if req.Limit, err = queryInt(c, "limit"); err != nil {
		h.fail(c, err)
		return
	}
	if req.SearchDays, err = queryFloat(c, "search_days"); err != nil {
		h.fail(c, err)
		return
	}
	if req.MaxOffsetDays, err = queryFloat(c, "max_offset_days"); err != nil {
		h.fail(c, err)
		return
	}
	if s := c.Query("max_cloud"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: invalid max_cloud: %v", common.ErrInvalidRequest, err))
			return
		}
		req.MaxCloud = &v
	}

	res, err := h.svc.Candidates(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Sources handles GET /v1/sources
func (h *Handler) Sources(c *gin.Context) {
	type sourceInfo struct {
		Name        string `json:"name"`
		Attribution string `json:"attribution,omitempty"`
		MaxZoom     int    `json:"maxZoom,omitempty"`
	}
	out := make([]sourceInfo, len(h.sources))
	for i, s := range h.sources {
		out[i] = sourceInfo{Name: s.Name, Attribution: s.Attribution, MaxZoom: s.MaxZoom}
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"sessions": h.sessions.len(),
	})
}

func (h *Handler) resolveSource(b sideBody) (compare.Side, error) {
	side := b.Side
	if b.Source == "" {
		return side, nil
	}
	for _, s := range h.sources {
		if strings.EqualFold(s.Name, b.Source) {
			side.Template = s.Template()
			if side.Label == "" {
				side.Label = s.Name
			}
			return side, nil
		}
	}
	return side, fmt.Errorf("%w: unknown source %q", common.ErrInvalidRequest, b.Source)
}

// fail writes err with the status its kind maps to
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidBBox), errors.Is(err, common.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrStale), errors.Is(err, taskqueue.ErrTaskFinished), errors.Is(err, taskqueue.ErrTaskRunning):
		return http.StatusConflict
	case errors.Is(err, common.ErrAllPixelsMasked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrNoCoverage):
		return http.StatusNotFound
	case errors.Is(err, common.ErrTileFetch), errors.Is(err, common.ErrCoverage):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		// nginx convention for a client that went away
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(c *gin.Context, key string) (int, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", common.ErrInvalidRequest, key, err)
	}
	return v, nil
}

func queryFloat(c *gin.Context, key string) (float64, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", common.ErrInvalidRequest, key, err)
	}
	return v, nil
}
