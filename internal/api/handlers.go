package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"waverchat/internal/models"
	"waverchat/internal/presence"
	"waverchat/internal/scroll"
	"waverchat/internal/service/chat"
	"waverchat/internal/storage"
)

// Session is the controller surface the bridge drives.
type Session interface {
	Submit(text string) bool
	Clear()
	Activity(kind presence.Activity)
	Scrolled()
	Messages() []models.Message
	InFlight() bool
	Presence() presence.State
	Metrics() models.MetricsSnapshot
	History() []models.Exchange
	ExportHistory() ([]byte, error)
	Pinned() bool
}

// Remote is the read-only server-side view; nil in direct mode.
type Remote interface {
	History(ctx context.Context, limit int) ([]models.RemoteExchange, error)
	Health(ctx context.Context) (map[string]any, error)
}

const (
	remoteTimeout  = 10 * time.Second
	exportFilename = "chatbot_history.json"
)

// Handler exposes the session to a UI renderer over HTTP.
type Handler struct {
	session  Session
	remote   Remote
	viewport *scroll.TrackedViewport
	sidebar  *storage.Flag
	hub      *Hub
}

// NewHandler constructs a Handler instance. remote may be nil.
func NewHandler(session Session, remote Remote, viewport *scroll.TrackedViewport, sidebar *storage.Flag, hub *Hub) *Handler {
	return &Handler{
		session:  session,
		remote:   remote,
		viewport: viewport,
		sidebar:  sidebar,
		hub:      hub,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	s := router.Group("/session")
	s.GET("/messages", h.listMessages)
	s.POST("/messages", h.submitMessage)
	s.DELETE("", h.clearSession)
	s.GET("/presence", h.getPresence)
	s.POST("/activity", h.recordActivity)
	s.POST("/scroll", h.reportScroll)
	s.GET("/metrics", h.getMetrics)
	s.GET("/history", h.getHistory)
	s.GET("/history/export", h.exportHistory)
	s.GET("/history/remote", h.getRemoteHistory)
	s.GET("/health", h.health)
	s.GET("/sidebar", h.getSidebar)
	s.PUT("/sidebar", h.setSidebar)
	s.GET("/events", h.streamEvents)
	s.GET("/presence/ws", h.presenceSocket)
}

type submitRequest struct {
	Content string `json:"content"`
}

func (h *Handler) submitMessage(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if !h.session.Submit(req.Content) {
		c.JSON(http.StatusConflict, gin.H{"error": "a request is already in flight"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *Handler) listMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"messages":  h.session.Messages(),
		"in_flight": h.session.InFlight(),
	})
}

func (h *Handler) clearSession(c *gin.Context) {
	h.session.Clear()
	c.JSON(http.StatusOK, gin.H{"messages": h.session.Messages()})
}

func (h *Handler) getPresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.session.Presence()})
}

type activityRequest struct {
	Kind string `json:"kind"`
}

func (h *Handler) recordActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	kind, ok := presence.ParseActivity(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown activity %q", req.Kind)})
		return
	}
	h.session.Activity(kind)
	c.Status(http.StatusNoContent)
}

type scrollRequest struct {
	ScrollTop    float64 `json:"scroll_top"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientHeight float64 `json:"client_height"`
}

func (h *Handler) reportScroll(c *gin.Context) {
	var req scrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.viewport.Report(req.ScrollTop, req.ScrollHeight, req.ClientHeight)
	h.session.Scrolled()
	c.JSON(http.StatusOK, gin.H{"pinned": h.session.Pinned()})
}

func (h *Handler) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Metrics())
}

func (h *Handler) getHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": h.session.History()})
}

func (h *Handler) exportHistory(c *gin.Context) {
	data, err := h.session.ExportHistory()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename))
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) getRemoteHistory(c *gin.Context) {
	if h.remote == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "remote history is unavailable in direct mode"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), remoteTimeout)
	defer cancel()
	entries, err := h.remote.History(ctx, limit)
	if err != nil {
		c.JSON(remoteStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) health(c *gin.Context) {
	payload := gin.H{
		"status":      "healthy",
		"in_flight":   h.session.InFlight(),
		"presence":    h.session.Presence(),
		"history_len": len(h.session.History()),
	}
	if h.remote != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), remoteTimeout)
		defer cancel()
		backend, err := h.remote.Health(ctx)
		if err != nil {
			payload["backend_error"] = err.Error()
		} else {
			payload["backend"] = backend
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (h *Handler) getSidebar(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"open": h.sidebar.Get(c.Request.Context())})
}

type sidebarRequest struct {
	Open *bool `json:"open"`
}

func (h *Handler) setSidebar(c *gin.Context) {
	var req sidebarRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Open == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open is required"})
		return
	}
	if err := h.sidebar.Set(c.Request.Context(), *req.Open); err != nil {
		// the flag is best effort; the renderer keeps its own state
		log.Printf("sidebar flag write failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"open": *req.Open})
}

// streamEvents pushes every session event to the renderer as SSE.
func (h *Handler) streamEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	// initial snapshot so a fresh renderer can draw without polling
	if err := sendEvent("presence", gin.H{"state": h.session.Presence()}); err != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sendEvent(ev.Name, ev.Data); err != nil {
				return
			}
		}
	}
}

// presenceSocket streams {"state": ...} frames for avatar renderers.
func (h *Handler) presenceSocket(c *gin.Context) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("presence websocket accept failed: %v", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "presence stream ended")

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	ctx := ws.CloseRead(c.Request.Context())
	if err := writeJSON(ctx, ws, gin.H{"state": h.session.Presence()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			change, isPresence := ev.Data.(presence.Change)
			if ev.Name != "presence" || !isPresence {
				continue
			}
			if err := writeJSON(ctx, ws, gin.H{"state": change.State}); err != nil {
				if websocket.CloseStatus(err) == -1 {
					log.Printf("presence websocket write failed: %v", err)
				}
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// remoteStatus maps chat errors onto gateway statuses.
func remoteStatus(err error) int {
	var serverErr *chat.ServerError
	switch {
	case errors.As(err, &serverErr):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrNetwork):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
