package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"safety.alerts.high", "safety.alerts.high", true},
		{"safety.alerts.high", "safety.alerts.low", false},
		{"safety.alerts.*", "safety.alerts.critical", true},
		{"safety.alerts.*", "safety.alerts", false},
		{"safety.alerts.*", "safety.alerts.critical.extra", false},
		{"safety.>", "safety.alerts.critical", true},
		{"safety.>", "safety", false},
		{"*.feedback", "assistant.feedback", true},
		{"assistant.feedback", "assistant", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.pattern, tt.subject), "%s ~ %s", tt.pattern, tt.subject)
	}
}

func TestValidSubject(t *testing.T) {
	assert.NoError(t, validSubject("a.b.c", false))
	assert.NoError(t, validSubject("a.*.>", true))
	assert.ErrorIs(t, validSubject("", false), ErrInvalidSubject)
	assert.ErrorIs(t, validSubject("a..b", true), ErrInvalidSubject)
	assert.ErrorIs(t, validSubject("a.*", false), ErrInvalidSubject)
	assert.ErrorIs(t, validSubject("a.>.b", true), ErrInvalidSubject)
	assert.ErrorIs(t, validSubject("a b", true), ErrInvalidSubject)
}

type event struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func TestMemory_PublishSubscribe(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	var got []string
	sub, err := b.Subscribe("safety.alerts.*", func(_ context.Context, subject string, data []byte) {
		var e event
		require.NoError(t, json.Unmarshal(data, &e))
		got = append(got, subject+":"+e.Name)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "safety.alerts.high", event{Name: "drop", Score: 3}))
	require.NoError(t, b.Publish(ctx, "assistant.feedback", event{Name: "ignored"}))
	require.NoError(t, b.Publish(ctx, "safety.alerts.low", []byte(`{"name":"raw"}`)))
	assert.Equal(t, []string{"safety.alerts.high:drop", "safety.alerts.low:raw"}, got)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.Publish(ctx, "safety.alerts.high", event{Name: "after"}))
	assert.Len(t, got, 2)

	assert.ErrorIs(t, b.Publish(ctx, "safety.*", event{}), ErrInvalidSubject)
	assert.Error(t, b.Publish(ctx, "x", make(chan int)), "unencodable payloads fail")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, b.Publish(cancelled, "x", event{}), context.Canceled)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, "x", event{}), ErrClosed)
	_, err = b.Subscribe("x", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_HandlerMayPublish(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	done := false
	_, err := b.Subscribe("ping", func(ctx context.Context, _ string, _ []byte) {
		require.NoError(t, b.Publish(ctx, "pong", event{}))
	})
	require.NoError(t, err)
	_, err = b.Subscribe("pong", func(context.Context, string, []byte) { done = true })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ping", event{}))
	assert.True(t, done)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATS_RoundTrip(t *testing.T) {
	srv := startTestNATSServer(t)
	b, err := ConnectNATS(srv.ClientURL(), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var mu sync.Mutex
	var got []event
	received := make(chan struct{}, 4)
	_, err = b.Subscribe("safety.alerts.>", func(_ context.Context, _ string, data []byte) {
		var e event
		if json.Unmarshal(data, &e) == nil {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		}
		received <- struct{}{}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))

	require.NoError(t, b.Publish(ctx, "safety.alerts.critical", event{Name: "low_safety", Score: 1}))
	require.NoError(t, b.Publish(ctx, "unrelated.subject", event{Name: "nope"}))
	require.NoError(t, b.Flush(ctx))

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []event{{Name: "low_safety", Score: 1}}, got)
}

func TestNATS_HandlerPanicIsContained(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	b := NewNATS(nc, nil)
	calls := make(chan struct{}, 2)
	_, err = b.Subscribe("boom", func(context.Context, string, []byte) {
		calls <- struct{}{}
		panic("handler bug")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.Publish(ctx, "boom", event{}))
	require.NoError(t, b.Publish(ctx, "boom", event{}))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-ctx.Done():
			t.Fatal("subscription stopped after a panic")
		}
	}
	assert.NoError(t, b.Close(), "closing a borrowed connection is a no-op")
	assert.True(t, nc.IsConnected())
}
