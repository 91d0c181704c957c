// Package session coordinates one chat widget session: message lifecycle,
// the single in-flight request, presence commands, metrics and history.
//
// All state lives on a worker.Executor. Public methods marshal onto it, so
// the controller may be called from any goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"waverchat/internal/history"
	"waverchat/internal/metrics"
	"waverchat/internal/models"
	"waverchat/internal/presence"
	"waverchat/internal/scroll"
	"waverchat/internal/service/chat"
	"waverchat/internal/worker"
)

const (
	sentDelay      = 500 * time.Millisecond
	deliveredDelay = 1000 * time.Millisecond

	defaultRequestTimeout = 30 * time.Second
	defaultNoticeDuration = 3 * time.Second
)

var errNoReply = errors.New("chat service returned no reply")

// ChatService answers one user message.
type ChatService interface {
	Send(ctx context.Context, text string) (*models.Reply, error)
}

// resetter is implemented by services that keep their own dialog state.
type resetter interface {
	Reset()
}

// Observer receives UI-facing events. Calls happen on the executor thread
// and must not block.
type Observer interface {
	MessageAppended(msg models.Message)
	MessageStatusChanged(id string, status models.Status)
	ConversationReset(welcome models.Message)
	ConnectionChanged(connected bool)
}

type nopObserver struct{}

func (nopObserver) MessageAppended(models.Message)             {}
func (nopObserver) MessageStatusChanged(string, models.Status) {}
func (nopObserver) ConversationReset(models.Message)           {}
func (nopObserver) ConnectionChanged(bool)                     {}

// Options carries the controller's collaborators. Every component must be
// driven by the same executor passed to NewController.
type Options struct {
	Service  ChatService
	History  *history.Store
	Presence *presence.Machine
	Sampler  *metrics.Sampler
	Scroll   *scroll.Coordinator
	Observer Observer

	Welcome        string
	Apology        string
	RequestTimeout time.Duration
	NoticeDuration time.Duration
}

type Controller struct {
	exec     worker.Executor
	service  ChatService
	history  *history.Store
	presence *presence.Machine
	sampler  *metrics.Sampler
	scroll   *scroll.Coordinator
	observer Observer

	welcome        string
	apology        string
	requestTimeout time.Duration
	noticeDuration time.Duration

	messages  []models.Message
	inFlight  bool
	gen       uint64
	cancel    context.CancelFunc
	deadline  *worker.Task
	statusDue map[string][]*worker.Task
	notice    *worker.Task
	closed    bool
}

// NewController wires the collaborators and shows the welcome message.
func NewController(exec worker.Executor, opts Options) *Controller {
	c := &Controller{
		exec:           exec,
		service:        opts.Service,
		history:        opts.History,
		presence:       opts.Presence,
		sampler:        opts.Sampler,
		scroll:         opts.Scroll,
		observer:       opts.Observer,
		welcome:        opts.Welcome,
		apology:        opts.Apology,
		requestTimeout: opts.RequestTimeout,
		noticeDuration: opts.NoticeDuration,
		statusDue:      make(map[string][]*worker.Task),
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.noticeDuration <= 0 {
		c.noticeDuration = defaultNoticeDuration
	}
	if err := exec.Call(func() {
		c.scroll.OnSettled(c.onScrollSettled)
		c.messages = []models.Message{c.welcomeMessage()}
	}); err != nil {
		log.Printf("session init failed: %v", err)
	}
	return c
}

// Submit sends text unless it is blank or a request is already in flight.
// It reports whether a request was dispatched.
func (c *Controller) Submit(text string) bool {
	var ok bool
	c.call(func() { ok = c.submit(text) })
	return ok
}

// Clear drops the conversation, history and cumulative metrics, abandoning
// any in-flight request.
func (c *Controller) Clear() {
	c.call(c.clear)
}

// Activity forwards a user interaction to presence.
func (c *Controller) Activity(kind presence.Activity) {
	c.call(func() { c.presence.Activity(kind) })
}

// Scrolled reports that the renderer's viewport moved.
func (c *Controller) Scrolled() {
	c.call(func() { c.scroll.OnScroll() })
}

// Messages returns a copy of the visible conversation.
func (c *Controller) Messages() []models.Message {
	var out []models.Message
	c.call(func() {
		out = make([]models.Message, len(c.messages))
		copy(out, c.messages)
	})
	return out
}

func (c *Controller) InFlight() bool {
	var v bool
	c.call(func() { v = c.inFlight })
	return v
}

func (c *Controller) Presence() presence.State {
	var s presence.State
	c.call(func() { s = c.presence.State() })
	return s
}

func (c *Controller) Metrics() models.MetricsSnapshot {
	var snap models.MetricsSnapshot
	c.call(func() { snap = c.sampler.Snapshot() })
	return snap
}

func (c *Controller) History() []models.Exchange {
	var out []models.Exchange
	c.call(func() { out = c.history.Entries() })
	return out
}

// ExportHistory serializes the history log for download.
func (c *Controller) ExportHistory() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if callErr := c.exec.Call(func() { data, err = c.history.Export() }); callErr != nil {
		return nil, callErr
	}
	return data, err
}

// Pinned reports whether the viewport follows the latest message.
func (c *Controller) Pinned() bool {
	var v bool
	c.call(func() { v = c.scroll.Pinned() })
	return v
}

// Subscribe registers fn for presence changes.
func (c *Controller) Subscribe(fn func(presence.Change)) func() {
	var unsubscribe func()
	c.call(func() { unsubscribe = c.presence.Subscribe(fn) })
	if unsubscribe == nil {
		return func() {}
	}
	return func() { c.call(unsubscribe) }
}

// Close cancels the in-flight request and every pending timer. The
// controller ignores input afterwards.
func (c *Controller) Close() {
	c.call(func() {
		if c.closed {
			return
		}
		c.closed = true
		c.abandonRequest()
		c.stopStatusTimers()
		c.stopNotice()
		c.sampler.Abort()
		c.scroll.Stop()
		c.presence.Stop()
	})
}

func (c *Controller) call(fn func()) {
	if err := c.exec.Call(fn); err != nil {
		worker.Debugf("session call dropped: %v", err)
	}
}

func (c *Controller) submit(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || c.inFlight || c.closed {
		return false
	}
	c.inFlight = true
	c.gen++
	gen := c.gen

	msg := models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderUser,
		Content:   text,
		CreatedAt: c.exec.Now(),
		Status:    models.StatusSending,
	}
	c.appendMessage(msg)
	c.scroll.OnContentAppended(c.scroll.Pinned())
	c.statusDue[msg.ID] = []*worker.Task{
		c.exec.AfterFunc(sentDelay, func() { c.advanceStatus(msg.ID, models.StatusSent) }),
		c.exec.AfterFunc(deliveredDelay, func() {
			delete(c.statusDue, msg.ID)
			c.advanceStatus(msg.ID, models.StatusDelivered)
		}),
	}

	c.presence.Command(presence.Thinking)
	if err := c.sampler.Start(); err != nil {
		log.Printf("session metrics start failed: %v", err)
	}

	// the deadline runs on the executor clock like every other session timer
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.deadline = c.exec.AfterFunc(c.requestTimeout, func() {
		c.deadline = nil
		if gen != c.gen || !c.inFlight {
			return
		}
		c.abandonRequest()
		c.fail(fmt.Errorf("%w: no reply within %s", chat.ErrNetwork, c.requestTimeout))
	})
	go func() {
		defer cancel()
		reply, err := c.service.Send(ctx, text)
		c.exec.Post(func() { c.complete(gen, text, reply, err) })
	}()
	worker.Debugf("session dispatched request gen=%d", gen)
	return true
}

func (c *Controller) complete(gen uint64, text string, reply *models.Reply, err error) {
	if c.closed || gen != c.gen || !c.inFlight {
		worker.Debugf("session dropped stale completion gen=%d", gen)
		return
	}
	c.releaseRequest()
	if err == nil && reply == nil {
		err = errNoReply
	}
	if err != nil {
		c.fail(err)
		return
	}

	bot := models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderBot,
		Content:   reply.Content,
		Intent:    reply.Intent,
		CreatedAt: c.exec.Now(),
	}
	c.appendMessage(bot)
	c.scroll.OnContentAppended(true)

	var tokens models.TokenUsage
	if reply.Tokens != nil {
		tokens = reply.Tokens.Normalize()
	} else {
		tokens = models.EstimateTokens(text, reply.Content)
	}
	exchange := models.Exchange{
		UserMessage: text,
		BotResponse: reply.Content,
		Intent:      reply.Intent,
		Timestamp:   bot.CreatedAt,
		Tokens:      &tokens,
	}
	if err := c.history.Append(context.Background(), exchange); err != nil {
		log.Printf("session history append failed: %v", err)
	}
	if _, err := c.sampler.Finalize(tokens); err != nil {
		log.Printf("session metrics finalize failed: %v", err)
	}

	c.inFlight = false
	c.presence.Command(presence.Active)
}

func (c *Controller) fail(err error) {
	log.Printf("session chat request failed: %v", err)
	apology := models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderBot,
		Content:   c.apology,
		Intent:    models.IntentPtr(models.IntentError),
		CreatedAt: c.exec.Now(),
	}
	c.appendMessage(apology)
	c.scroll.OnContentAppended(true)
	c.sampler.Abort()

	c.inFlight = false
	c.presence.Command(presence.Active)

	c.stopNotice()
	c.observer.ConnectionChanged(false)
	c.notice = c.exec.AfterFunc(c.noticeDuration, func() {
		c.notice = nil
		c.observer.ConnectionChanged(true)
	})
}

func (c *Controller) clear() {
	if c.closed {
		return
	}
	wasInFlight := c.inFlight
	c.abandonRequest()
	c.inFlight = false
	c.stopStatusTimers()
	if c.stopNotice() {
		c.observer.ConnectionChanged(true)
	}

	c.sampler.Reset()
	if err := c.history.Clear(context.Background()); err != nil {
		log.Printf("session history clear failed: %v", err)
	}
	if r, ok := c.service.(resetter); ok {
		r.Reset()
	}

	welcome := c.welcomeMessage()
	c.messages = []models.Message{welcome}
	if wasInFlight {
		c.presence.Command(presence.Active)
	}
	c.observer.ConversationReset(welcome)
}

// abandonRequest cancels the outstanding call and invalidates its
// completion.
func (c *Controller) abandonRequest() {
	if c.cancel != nil {
		c.cancel()
	}
	c.releaseRequest()
	c.gen++
}

// releaseRequest drops the handles of a finished or abandoned call.
func (c *Controller) releaseRequest() {
	c.cancel = nil
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
}

func (c *Controller) appendMessage(msg models.Message) {
	c.messages = append(c.messages, msg)
	c.observer.MessageAppended(msg)
}

// advanceStatus moves a user message forward; backward or repeated steps
// are ignored.
func (c *Controller) advanceStatus(id string, status models.Status) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID != id {
			continue
		}
		if !c.messages[i].Status.Advances(status) {
			return
		}
		c.messages[i].Status = status
		c.observer.MessageStatusChanged(id, status)
		return
	}
}

// onScrollSettled marks delivered user messages read once the viewport
// rests at the bottom.
func (c *Controller) onScrollSettled(pinned bool) {
	if !pinned || c.closed {
		return
	}
	for _, msg := range c.messages {
		if msg.Sender == models.SenderUser && msg.Status == models.StatusDelivered {
			c.advanceStatus(msg.ID, models.StatusRead)
		}
	}
}

func (c *Controller) stopStatusTimers() {
	for id, tasks := range c.statusDue {
		for _, t := range tasks {
			t.Stop()
		}
		delete(c.statusDue, id)
	}
}

// stopNotice cancels a pending reconnect notice and reports whether one was
// showing.
func (c *Controller) stopNotice() bool {
	if c.notice == nil {
		return false
	}
	c.notice.Stop()
	c.notice = nil
	return true
}

func (c *Controller) welcomeMessage() models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderBot,
		Content:   c.welcome,
		CreatedAt: c.exec.Now(),
	}
}
