package local

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/iracelog-racemodel/log"
)

// BroadcastServer fans out every message of a source channel to all
// subscribers. A subscriber that does not accept a message within
// SendTimeout misses it.
type BroadcastServer[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

const SendTimeout = 50 * time.Millisecond

type broadcastServer[T any] struct {
	name           string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	ctx            context.Context
	cancel         context.CancelFunc
	l              *log.Logger
	mu             sync.Mutex
	numRcv         int64
	numSnd         int64
	numSkip        int64
}

func NewBroadcastServer[T any](name string, source <-chan T) BroadcastServer[T] {
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcastServer[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		ctx:            ctx,
		cancel:         cancel,
		l:              log.Default().Named("broadcast"),
	}
	b.setupMetrics()
	go b.serve()
	return b
}

func (b *broadcastServer[T]) Subscribe() <-chan T {
	ch := make(chan T)
	select {
	case b.addListener <- ch:
	case <-b.ctx.Done():
		close(ch)
	}
	return ch
}

func (b *broadcastServer[T]) CancelSubscription(ch <-chan T) {
	select {
	case b.removeListener <- ch:
	case <-b.ctx.Done():
	}
}

func (b *broadcastServer[T]) Close() {
	b.mu.Lock()
	b.l.Info("closing broadcast server",
		log.String("name", b.name),
		log.Int64("rcv", b.numRcv), log.Int64("snd", b.numSnd), log.Int64("skip", b.numSkip))
	b.mu.Unlock()
	b.cancel()
}

func (b *broadcastServer[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter(fmt.Sprintf("irm.broadcast.%s", b.name))
	register := func(metricName, desc string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				b.mu.Lock()
				defer b.mu.Unlock()
				o.Observe(valueProvider(),
					metric.WithAttributes(attribute.String("name", b.name)))
				return nil
			})); err != nil {
			b.l.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	register("irm.broadcast.rcv", "Number of received messages",
		func() int64 { return b.numRcv })
	register("irm.broadcast.snd", "Number of sent messages",
		func() int64 { return b.numSnd })
	register("irm.broadcast.skip", "Number of skipped messages",
		func() int64 { return b.numSkip })
	register("irm.broadcast.listener", "Number of listeners",
		func() int64 { return int64(len(b.listeners)) })
}

//nolint:gocognit // by design
func (b *broadcastServer[T]) serve() {
	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, listener := range b.listeners {
			close(listener)
		}
		b.listeners = nil
	}()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ch := <-b.addListener:
			b.mu.Lock()
			b.listeners = append(b.listeners, ch)
			b.mu.Unlock()
		case ch := <-b.removeListener:
			b.mu.Lock()
			idx := slices.IndexFunc(b.listeners, func(l chan T) bool { return l == ch })
			if idx >= 0 {
				close(b.listeners[idx])
				b.listeners = slices.Delete(b.listeners, idx, idx+1)
			}
			b.mu.Unlock()
		case msg := <-b.source:
			b.mu.Lock()
			b.numRcv++
			for _, listener := range b.listeners {
				select {
				case listener <- msg:
					b.numSnd++
				case <-time.After(SendTimeout):
					b.numSkip++
				}
			}
			b.mu.Unlock()
		}
	}
}
