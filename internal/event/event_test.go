package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestType_Matches(t *testing.T) {
	tests := []struct {
		typ     Type
		pattern string
		want    bool
	}{
		{PluginEnabled, "plugin.enabled", true},
		{PluginEnabled, "plugin.disabled", false},
		{PluginEnabled, "plugin.*", true},
		{PluginEnabled, "*.enabled", true},
		{ModuleEnabled, "*.enabled", true},
		{ModuleDisabled, "*.enabled", false},
		{PluginEnabled, "**", true},
		{PluginEnabled, "plugin.**", true},
		{PluginEnabled, "plugin.enabled.**", true},
		{PluginEnabled, "*", false},
		{PluginEnabled, "plugin.enabled.extra", false},
		{Type("a.b.c"), "a.**.c", true},
		{Type("a.c"), "a.**.c", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.pattern, func(t *testing.T) {
			if got := tt.typ.Matches(tt.pattern); got != tt.want {
				t.Errorf("Type(%q).Matches(%q) = %v, want %v", tt.typ, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestNewModuleEvent(t *testing.T) {
	e := NewModuleEvent(ModuleEnabled, "com.acme:hello")
	if e.PluginKey != "com.acme" {
		t.Errorf("PluginKey = %v, want com.acme", e.PluginKey)
	}
	if e.ModuleKey != "com.acme:hello" {
		t.Errorf("ModuleKey = %v, want com.acme:hello", e.ModuleKey)
	}
	if e.ID == "" {
		t.Error("ID should be set")
	}
	if e.Time.IsZero() {
		t.Error("Time should be set")
	}

	other := NewPluginEvent(PluginEnabled, "com.acme", "1.0")
	if other.ID == e.ID {
		t.Error("event IDs should be unique")
	}
	if other.Version != "1.0" {
		t.Errorf("Version = %v, want 1.0", other.Version)
	}
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(WithBusLogger(quietLogger()))

	if _, err := bus.Subscribe("plugin.*", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Subscribe(nil) error = %v, want ErrNilHandler", err)
	}
	for _, pattern := range []string{"", "plugin..enabled", ".plugin"} {
		if _, err := bus.Subscribe(pattern, func(context.Context, Event) {}); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Subscribe(%q) error = %v, want ErrInvalidPattern", pattern, err)
		}
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(WithBusLogger(quietLogger()))
	ctx := context.Background()

	var got []string
	record := func(name string) Handler {
		return func(_ context.Context, e Event) {
			got = append(got, name+":"+string(e.Type))
		}
	}

	unsubPlugin, err := bus.Subscribe("plugin.*", record("plugin"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := bus.Subscribe("*.enabled", record("enabled")); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := bus.Publish(ctx, NewPluginEvent(PluginEnabled, "p", "1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := bus.Publish(ctx, NewModuleEvent(ModuleDisabled, "p:m")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	want := []string{"plugin:plugin.enabled", "enabled:plugin.enabled"}
	if len(got) != len(want) {
		t.Fatalf("deliveries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	unsubPlugin()
	unsubPlugin()
	got = nil
	_ = bus.Publish(ctx, NewPluginEvent(PluginEnabled, "p", "1"))
	if len(got) != 1 || got[0] != "enabled:plugin.enabled" {
		t.Errorf("deliveries after unsubscribe = %v", got)
	}

	stats := bus.Stats()
	if stats.Subscriptions != 1 {
		t.Errorf("Stats().Subscriptions = %v, want 1", stats.Subscriptions)
	}
	if stats.Published != 3 {
		t.Errorf("Stats().Published = %v, want 3", stats.Published)
	}
	if stats.Delivered != 3 {
		t.Errorf("Stats().Delivered = %v, want 3", stats.Delivered)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(WithBusLogger(quietLogger()))

	ran := false
	_, _ = bus.Subscribe("**", func(context.Context, Event) { panic("boom") })
	_, _ = bus.Subscribe("**", func(context.Context, Event) { ran = true })

	err := bus.Publish(context.Background(), NewPluginEvent(PluginDisabled, "p", ""))
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("Publish() error = %v, want ErrHandlerPanic", err)
	}
	var perr *PanicError
	if !errors.As(err, &perr) {
		t.Fatalf("Publish() error = %T, want *PanicError", err)
	}
	if perr.Value != "boom" || perr.Type != PluginDisabled {
		t.Errorf("PanicError = %+v", perr)
	}
	if !ran {
		t.Error("handler after the panicking one should still run")
	}
	if bus.Stats().Panics != 1 {
		t.Errorf("Stats().Panics = %v, want 1", bus.Stats().Panics)
	}
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewBus(WithBusLogger(quietLogger()))
	calls := 0
	_, _ = bus.Subscribe("**", func(context.Context, Event) {
		calls++
		_, _ = bus.Subscribe("**", func(context.Context, Event) { calls++ })
	})

	_ = bus.Publish(context.Background(), NewPluginEvent(PluginInstalled, "p", ""))
	if calls != 1 {
		t.Errorf("calls = %v, want 1", calls)
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMulti(t *testing.T) {
	bus := NewBus(WithBusLogger(quietLogger()))
	delivered := 0
	_, _ = bus.Subscribe("**", func(context.Context, Event) { delivered++ })

	errA := errors.New("a")
	m := Multi{failingPublisher{errA}, nil, Discard{}, bus}
	err := m.Publish(context.Background(), NewPluginEvent(PluginEnabled, "p", ""))
	if !errors.Is(err, errA) {
		t.Errorf("Multi.Publish() error = %v, want %v", err, errA)
	}
	if delivered != 1 {
		t.Errorf("delivered = %v, want 1", delivered)
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	exchanges []string
	keys      []string
	closed    bool
	err       error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.exchanges = append(c.exchanges, exchange)
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := NewAMQPPublisher(ch, "", quietLogger())
	if p.Exchange() != DefaultExchange {
		t.Errorf("Exchange() = %v, want %v", p.Exchange(), DefaultExchange)
	}

	e := NewModuleEvent(ModuleEnabled, "com.acme:hello")
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published = %d, want 1", len(ch.published))
	}
	if ch.keys[0] != "module.enabled" {
		t.Errorf("routing key = %v, want module.enabled", ch.keys[0])
	}
	if ch.exchanges[0] != DefaultExchange {
		t.Errorf("exchange = %v, want %v", ch.exchanges[0], DefaultExchange)
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" || msg.MessageId != e.ID {
		t.Errorf("publishing = %+v", msg)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.ModuleKey != "com.acme:hello" || decoded.Type != ModuleEnabled {
		t.Errorf("decoded = %+v", decoded)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ch.closed {
		t.Error("channel should be closed")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := p.Publish(context.Background(), e); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrPublisherClosed", err)
	}
}

func TestAMQPPublisher_Error(t *testing.T) {
	errDown := errors.New("channel down")
	p := NewAMQPPublisher(&fakeChannel{err: errDown}, "x", nil)
	if err := p.Publish(context.Background(), NewPluginEvent(PluginEnabled, "p", "")); !errors.Is(err, errDown) {
		t.Errorf("Publish() error = %v, want %v", err, errDown)
	}
}

func TestDialAMQP_EmptyURL(t *testing.T) {
	if _, err := DialAMQP("", "", nil); err == nil {
		t.Error("DialAMQP(\"\") should fail")
	}
}
