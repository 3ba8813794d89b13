package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/publish"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestPublisher(t *testing.T) {
	p := New("test")
	defer p.Close()
	ch := p.Subscribe()
	ctx := context.Background()

	go func() {
		//nolint:errcheck // test
		p.PublishBaseline(ctx, &model.DriverBaseline{Session: "s1", Driver: "d1"})
		//nolint:errcheck // test
		p.PublishDeviations(ctx, "s1", nil)
		//nolint:errcheck // test
		p.PublishDeviations(ctx, "s1", []model.StateDeviation{{Driver: "d1", Lap: 6}})
		//nolint:errcheck // test
		p.PublishPrediction(ctx, &model.Prediction{Session: "s1", Driver: "d1", Lap: 7})
	}()

	msg := receive(t, ch)
	assert.Equal(t, "irm.s1.baseline", msg.Subject)
	assert.Equal(t, "d1", msg.Payload.(*model.DriverBaseline).Driver)

	msg = receive(t, ch)
	assert.Equal(t, publish.KindDeviation, msg.Kind)
	assert.Len(t, msg.Payload.([]model.StateDeviation), 1)

	msg = receive(t, ch)
	assert.Equal(t, "irm.s1.prediction", msg.Subject)
	assert.Equal(t, 7, msg.Payload.(*model.Prediction).Lap)
}

func TestPublisher_Close(t *testing.T) {
	p := New("close")
	ch := p.Subscribe()
	p.Close()
	p.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	err := p.PublishPrediction(context.Background(), &model.Prediction{Session: "s"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_CancelSubscription(t *testing.T) {
	p := New("cancel")
	defer p.Close()
	ch := p.Subscribe()
	p.CancelSubscription(ch)
	_, ok := <-ch
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// no subscribers left, message is dropped
	require.NoError(t, p.PublishBaseline(ctx, &model.DriverBaseline{Session: "s"}))
}
