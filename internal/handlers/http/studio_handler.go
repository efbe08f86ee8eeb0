package http

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"strings"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"
	apperrors "castmix/pkg/errors"
	"castmix/pkg/tracing"

	"github.com/gin-gonic/gin"
)

// InsetNotifier is told when the inset or layout changes outside a pointer
// session, so connected operators can be updated.
type InsetNotifier interface {
	BroadcastInset()
}

var errorMappings = []apperrors.Mapping{
	{Target: domain.ErrInvalidArgument, Code: apperrors.ErrCodeInvalidInput, HTTPStatus: http.StatusBadRequest},
	{Target: domain.ErrInvalidOrigin, Code: apperrors.ErrCodeInvalidInput, HTTPStatus: http.StatusBadRequest},
	{Target: domain.ErrInvalidTransition, Code: apperrors.ErrCodeInvalidState, HTTPStatus: http.StatusConflict},
	{Target: domain.ErrEngineTornDown, Code: apperrors.ErrCodeEngineStopped, HTTPStatus: http.StatusServiceUnavailable},
	{Target: domain.ErrSourceUnavailable, Code: apperrors.ErrCodeSourceUnavailable, HTTPStatus: http.StatusUnprocessableEntity},
	{Target: domain.ErrCrossOriginRestricted, Code: apperrors.ErrCodeSourceUnavailable, HTTPStatus: http.StatusForbidden},
	{Target: domain.ErrAudioGraphUnavailable, Code: apperrors.ErrCodeAudioUnavailable, HTTPStatus: http.StatusServiceUnavailable},
}

// ToAppError maps engine errors onto HTTP-facing application errors.
func ToAppError(err error) *apperrors.AppError {
	return apperrors.FromError(err, errorMappings...)
}

// OriginChecker decides whether an origin supplied over the API may be
// opened. Sources configured at startup do not pass through it.
type OriginChecker interface {
	Check(origin string) error
}

type StudioHandler struct {
	engine   ports.StudioEngine
	notifier InsetNotifier
	origins  OriginChecker
}

// NewStudioHandler wires the control API. A nil origins checker limits
// AttachSource to data URLs.
func NewStudioHandler(engine ports.StudioEngine, notifier InsetNotifier, origins OriginChecker) *StudioHandler {
	return &StudioHandler{
		engine:   engine,
		notifier: notifier,
		origins:  origins,
	}
}

func (h *StudioHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/studio")
	{
		api.GET("/status", h.GetStatus)
		api.POST("/suspend", h.Suspend)
		api.POST("/resume", h.Resume)

		api.GET("/layout", h.GetLayout)
		api.PUT("/layout", h.SetLayout)
		api.GET("/inset", h.GetInset)
		api.PUT("/inset", h.MoveInset)
		api.POST("/pointer", h.Pointer)
		api.PUT("/watermark", h.SetWatermark)

		api.GET("/sources", h.ListSources)
		api.PUT("/sources/:kind", h.AttachSource)
		api.DELETE("/sources/:kind", h.DetachSource)

		api.GET("/audio/channels", h.ListChannels)
		api.PATCH("/audio/channels/:channel", h.UpdateChannel)

		api.GET("/capabilities", h.GetCapabilities)
		api.GET("/warnings", h.GetWarnings)
		api.GET("/metrics", h.GetMetrics)
		api.GET("/snapshot.png", h.GetSnapshot)
	}
}

func (h *StudioHandler) fail(c *gin.Context, err error) {
	_ = c.Error(ToAppError(err))
}

func (h *StudioHandler) badRequest(c *gin.Context, err error) {
	_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
}

func (h *StudioHandler) checkOrigin(origin string) error {
	if h.origins != nil {
		return h.origins.Check(origin)
	}
	if strings.HasPrefix(origin, "data:") {
		return nil
	}
	return fmt.Errorf("%w: only data urls are accepted", domain.ErrInvalidOrigin)
}

func (h *StudioHandler) notifyInset() {
	if h.notifier != nil {
		h.notifier.BroadcastInset()
	}
}

func (h *StudioHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":        h.engine.State(),
		"layout":       h.engine.Layout(),
		"inset":        h.engine.InsetRect(),
		"sources":      h.engine.Sources(),
		"channels":     h.engine.Channels(),
		"capabilities": h.engine.Capabilities(),
	})
}

func (h *StudioHandler) Suspend(c *gin.Context) {
	if err := h.engine.Suspend(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.engine.State()})
}

func (h *StudioHandler) Resume(c *gin.Context) {
	if err := h.engine.Resume(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.engine.State()})
}

func (h *StudioHandler) GetLayout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"layout": h.engine.Layout(),
		"modes":  domain.AllLayoutModes,
	})
}

func (h *StudioHandler) SetLayout(c *gin.Context) {
	var req struct {
		Layout string `json:"layout" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	mode, err := domain.ParseLayoutMode(req.Layout)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.SetLayout(c.Request.Context(), mode); err != nil {
		h.fail(c, err)
		return
	}
	h.notifyInset()
	c.JSON(http.StatusOK, gin.H{
		"layout": h.engine.Layout(),
		"inset":  h.engine.InsetRect(),
	})
}

func (h *StudioHandler) GetInset(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"inset": h.engine.InsetRect()})
}

func (h *StudioHandler) MoveInset(c *gin.Context) {
	var req struct {
		X *int `json:"x" binding:"required"`
		Y *int `json:"y" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rect := h.engine.MoveInset(*req.X, *req.Y)
	h.notifyInset()
	c.JSON(http.StatusOK, gin.H{"inset": rect})
}

// Pointer accepts a single pointer event for clients that do not hold a
// WebSocket session.
func (h *StudioHandler) Pointer(c *gin.Context) {
	var ev domain.PointerEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.badRequest(c, err)
		return
	}
	switch ev.Phase {
	case domain.PointerDown, domain.PointerMove, domain.PointerUp, domain.PointerLeave:
	default:
		_ = c.Error(apperrors.NewInvalidInputError("unknown pointer phase").WithContext("phase", ev.Phase))
		return
	}

	handled := h.engine.HandlePointer(ev)
	if handled {
		h.notifyInset()
	}
	c.JSON(http.StatusOK, gin.H{
		"handled": handled,
		"inset":   h.engine.InsetRect(),
	})
}

func (h *StudioHandler) SetWatermark(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.engine.SetWatermark(req.Text)
	c.Status(http.StatusNoContent)
}

func (h *StudioHandler) ListSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": h.engine.Sources()})
}

// AttachSource binds a URL-backed source. Loading continues in the
// background; the response only says the request was accepted.
func (h *StudioHandler) AttachSource(c *gin.Context) {
	kind, err := domain.ParseSourceKind(c.Param("kind"))
	if err != nil {
		h.fail(c, err)
		return
	}
	tracing.AddSpanAttributes(c.Request.Context(), tracing.SourceKindKey.String(string(kind)))
	if kind.IsLive() {
		_ = c.Error(apperrors.NewInvalidInputError("live sources are attached by the capture host").
			WithContext("kind", kind))
		return
	}

	var req struct {
		Origin string `json:"origin" binding:"required,max=8192"`
		Loop   bool   `json:"loop"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.checkOrigin(req.Origin); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.engine.AttachURL(kind, req.Origin, req.Loop); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"kind": kind, "origin": req.Origin})
}

func (h *StudioHandler) DetachSource(c *gin.Context) {
	kind, err := domain.ParseSourceKind(c.Param("kind"))
	if err != nil {
		h.fail(c, err)
		return
	}
	tracing.AddSpanAttributes(c.Request.Context(), tracing.SourceKindKey.String(string(kind)))
	h.engine.Detach(kind)
	c.Status(http.StatusNoContent)
}

func (h *StudioHandler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.engine.Channels()})
}

func (h *StudioHandler) UpdateChannel(c *gin.Context) {
	id, err := domain.ParseChannelID(c.Param("channel"))
	if err != nil {
		h.fail(c, err)
		return
	}
	tracing.AddSpanAttributes(c.Request.Context(), tracing.ChannelKey.String(string(id)))

	var req struct {
		Gain  *float64 `json:"gain"`
		Muted *bool    `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Gain == nil && req.Muted == nil {
		_ = c.Error(apperrors.NewInvalidInputError("gain or muted is required"))
		return
	}

	if req.Gain != nil {
		if err := h.engine.SetGain(id, *req.Gain); err != nil {
			h.fail(c, err)
			return
		}
	}
	if req.Muted != nil {
		if err := h.engine.SetMuted(id, *req.Muted); err != nil {
			h.fail(c, err)
			return
		}
	}

	for _, ch := range h.engine.Channels() {
		if ch.ID == id {
			c.JSON(http.StatusOK, gin.H{"channel": ch})
			return
		}
	}
	_ = c.Error(apperrors.NewNotFoundError("channel"))
}

func (h *StudioHandler) GetCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Capabilities())
}

func (h *StudioHandler) GetWarnings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"warnings": h.engine.Warnings()})
}

func (h *StudioHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Metrics())
}

// GetSnapshot returns the last exported frame as PNG.
func (h *StudioHandler) GetSnapshot(c *gin.Context) {
	img, ok := h.engine.Snapshot()
	if !ok {
		_ = c.Error(apperrors.NewNotFoundError("frame"))
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		appErr := apperrors.NewInternalError("failed to encode snapshot")
		appErr.Cause = err
		_ = c.Error(appErr)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
