package messaging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingObserver struct {
	mu     sync.Mutex
	calls  int
	failed int
}

func (o *countingObserver) HandlerDone(_ shared.EventType, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err != nil {
		o.failed++
	}
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	obs := &countingObserver{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger(), Observer: obs})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventScoreUpserted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		if e.EventType() == shared.EventScoreUpserted {
			return errors.New("boom")
		}
		return nil
	}))

	err := bus.Publish(shared.NewScoreUpsertedEvent("e1", "S1", "MATH-T1", 8))
	assert.EqualError(t, err, "boom")
	require.NoError(t, bus.Publish(shared.NewRankingUpdatedEvent("e2", "classroom", "C1", "T1", 2)))

	assert.Equal(t, []shared.EventType{shared.EventScoreUpserted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventScoreUpserted, shared.EventRankingUpdated}, all)
	assert.Equal(t, 3, obs.calls)
	assert.Equal(t, 1, obs.failed)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quietLogger()})

	var handled atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventScoreUpserted, func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewScoreUpsertedEvent("e", "S1", "X", 5)))
	}
	require.NoError(t, bus.Close())

	// handlers still queued for a slot at Close may be dropped
	assert.LessOrEqual(t, handled.Load(), int32(5))
	assert.GreaterOrEqual(t, handled.Load(), int32(1))
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewScoreUpsertedEvent("e", "S", "E", 1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventScoreUpserted, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestRecoveryMiddleware(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		Logger:      quietLogger(),
		Middlewares: []Middleware{RecoveryMiddleware(quietLogger()), LoggingMiddleware(quietLogger())},
	})
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventScoreUpserted, func(shared.Event) error {
		panic("bad handler")
	}))

	err := bus.Publish(shared.NewScoreUpsertedEvent("e", "S1", "E1", 1))
	assert.ErrorIs(t, err, ErrHandlerPanic)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(e shared.Event) error {
				order = append(order, name)
				return next(e)
			}
		}
	}
	h := Chain(func(shared.Event) error { order = append(order, "handler"); return nil }, mw("a"), mw("b"))
	require.NoError(t, h(shared.NewScoreUpsertedEvent("e", "S", "E", 1)))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestRedisEventBus_HandleMessage(t *testing.T) {
	local := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	defer local.Close()
	bus := &RedisEventBus{localBus: local, instanceID: "self", logger: quietLogger()}

	var got []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventScoreUpserted, func(e shared.Event) error {
		got = append(got, e)
		return nil
	}))

	event := shared.NewScoreUpsertedEvent("e1", "S1", "MATH-T1", 7.5)
	own, err := encodeEnvelope("self", event)
	require.NoError(t, err)
	remote, err := encodeEnvelope("other", event)
	require.NoError(t, err)

	bus.handleMessage(own)
	bus.handleMessage(remote)
	bus.handleMessage("not json")

	require.Len(t, got, 1)
	assert.Equal(t, "S1", got[0].AggregateID())
	assert.Equal(t, "MATH-T1", got[0].Payload()["exam_code"])
	assert.Equal(t, 7.5, got[0].Payload()["value"])
}

func TestDecodeEnvelope_MissingType(t *testing.T) {
	_, err := decodeEnvelope(`{"instance_id":"x"}`)
	assert.Error(t, err)
}
