package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/testsupport/tcnats"
)

func TestBaselineKey(t *testing.T) {
	assert.Equal(t, "baseline.spa_r1.d_1", BaselineKey("spa.r1", "d 1"))
}

func TestPublisher(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	c, err := tcnats.SetupNats(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		//nolint:errcheck // test cleanup
		testcontainers.TerminateContainer(c)
	})

	sub, err := nats.Connect(c.URL)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 10)
	s, err := sub.ChanSubscribe("irm.s1.>", msgs)
	require.NoError(t, err)
	defer s.Unsubscribe() //nolint:errcheck // test
	require.NoError(t, sub.Flush())

	p, err := Connect(ctx, c.URL, WithBaselineBucket(DefaultBucket, time.Hour))
	require.NoError(t, err)
	defer p.Close()

	b := &model.DriverBaseline{
		Session: "s1", Driver: "d1",
		Profile: map[string]float64{"brake_peak_cv": 0.2},
	}
	require.NoError(t, p.PublishBaseline(ctx, b))
	require.NoError(t, p.PublishPrediction(ctx, &model.Prediction{Session: "s1", Driver: "d1", Lap: 4}))

	next := func() *nats.Msg {
		select {
		case m := <-msgs:
			return m
		case <-time.After(5 * time.Second):
			t.Fatal("no message")
		}
		return nil
	}
	m := next()
	assert.Equal(t, "irm.s1.baseline", m.Subject)
	var got model.DriverBaseline
	require.NoError(t, json.Unmarshal(m.Data, &got))
	assert.Equal(t, b.Profile, got.Profile)
	assert.Equal(t, "irm.s1.prediction", next().Subject)

	stored, err := p.Baseline(ctx, "s1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", stored.Driver)
}
