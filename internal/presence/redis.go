package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"waverchat/internal/redis"
)

const (
	publishTimeout = 2 * time.Second
	publishBacklog = 64
)

type publishFunc func(ctx context.Context, channel string, payload []byte) error

// Broadcaster publishes presence changes on a redis channel so renderers in
// other processes can follow the avatar state. Changes reach redis in the
// order they happened.
type Broadcaster struct {
	client  *redis.Client
	channel string
	publish publishFunc

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

func NewBroadcaster(client *redis.Client, channel string) *Broadcaster {
	return startBroadcaster(client, channel, client.Publish)
}

func startBroadcaster(client *redis.Client, channel string, publish publishFunc) *Broadcaster {
	b := &Broadcaster{
		client:  client,
		channel: channel,
		publish: publish,
		queue:   make(chan []byte, publishBacklog),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Attach subscribes the broadcaster to m. Call it from the scheduler thread.
func (b *Broadcaster) Attach(m *Machine) func() {
	return m.Subscribe(b.Publish)
}

// Publish queues one change without blocking the caller. Failures are
// logged and dropped.
func (b *Broadcaster) Publish(change Change) {
	if b == nil || b.publish == nil {
		return
	}
	payload, err := json.Marshal(change)
	if err != nil {
		log.Printf("presence broadcast marshal failed: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- payload:
	default:
		log.Printf("presence broadcast backlog full, dropping %s", change.State)
	}
}

// Close flushes queued changes and stops the publisher.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

// run is the only goroutine talking to redis for this broadcaster.
func (b *Broadcaster) run() {
	defer close(b.done)
	for payload := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := b.publish(ctx, b.channel, payload); err != nil {
			log.Printf("presence broadcast publish failed: %v", err)
		}
		cancel()
	}
}

// Listen delivers decoded changes to handler until ctx is done.
func (b *Broadcaster) Listen(ctx context.Context, handler func(Change)) error {
	pubsub, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				log.Printf("presence broadcast decode failed: %v", err)
				continue
			}
			handler(change)
		}
	}
}
