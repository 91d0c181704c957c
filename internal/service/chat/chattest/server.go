// Package chattest provides a fake chatbot backend for tests.
package chattest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Backend is a gin server speaking the /api/chat protocol. Responses are
// scripted per call; the zero script echoes the message.
type Backend struct {
	*httptest.Server

	mu        sync.Mutex
	status    int
	body      any
	delay     time.Duration
	block     chan struct{}
	received  []string
	sessions  []string
	history   []gin.H
	lastLimit string
}

// NewBackend starts a fake backend; it is closed with t's cleanup by the
// caller.
func NewBackend() *Backend {
	gin.SetMode(gin.TestMode)
	b := &Backend{status: http.StatusOK}
	router := gin.New()
	api := router.Group("/api/chat")
	api.POST("", b.handleChat)
	api.GET("/history", b.handleHistory)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "ecommerce-chatbot"})
	})
	b.Server = httptest.NewServer(router)
	return b
}

// Reply scripts the next responses.
func (b *Backend) Reply(status int, body any) {
	b.mu.Lock()
	b.status, b.body = status, body
	b.mu.Unlock()
}

// Delay makes every chat response wait d first.
func (b *Backend) Delay(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

// Hold blocks chat responses until the returned function is called.
func (b *Backend) Hold() func() {
	ch := make(chan struct{})
	b.mu.Lock()
	b.block = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

// SetHistory scripts the history endpoint.
func (b *Backend) SetHistory(entries []gin.H) {
	b.mu.Lock()
	b.history = entries
	b.mu.Unlock()
}

// Received lists the messages posted so far.
func (b *Backend) Received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

// Sessions lists the session_id query values seen by the chat endpoint.
func (b *Backend) Sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sessions...)
}

// LastLimit is the limit query value of the latest history call.
func (b *Backend) LastLimit() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastLimit
}

func (b *Backend) handleChat(c *gin.Context) {
	var req struct {
		Message string `json:"mensaje"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	b.mu.Lock()
	b.received = append(b.received, req.Message)
	b.sessions = append(b.sessions, c.Query("session_id"))
	status, body, delay, block := b.status, b.body, b.delay, b.block
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			return
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-c.Request.Context().Done():
			return
		}
	}
	if body == nil {
		body = gin.H{"respuesta": "eco: " + req.Message, "intencion": "informacion_general"}
	}
	if raw, ok := body.(string); ok {
		c.Data(status, "application/json", []byte(raw))
		return
	}
	c.JSON(status, body)
}

func (b *Backend) handleHistory(c *gin.Context) {
	b.mu.Lock()
	b.lastLimit = c.Query("limit")
	entries := b.history
	b.mu.Unlock()
	if entries == nil {
		entries = []gin.H{}
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
