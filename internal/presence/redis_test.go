package presence

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"waverchat/internal/config"
	"waverchat/internal/redis"
	"waverchat/internal/worker"
)

func newBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed presence tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	cfg := &config.Config{Redis: config.RedisConfig{Host: host, Port: port}}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewBroadcaster(client, "waverchat-test:presence")
}

func TestBroadcasterDeliversChanges(t *testing.T) {
	b := newBroadcaster(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Change, 4)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = b.Listen(ctx, func(c Change) { got <- c })
	}()
	<-ready
	// give the subscription a moment to register
	time.Sleep(100 * time.Millisecond)

	step := worker.NewStepper(epoch)
	m := New(step, DefaultIdleTimeout)
	b.Attach(m)
	m.Command(Thinking)

	select {
	case c := <-got:
		if c.State != Thinking || c.From != Active {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}
