// Package nats publishes monitor data as JSON messages on NATS subjects
// irm.<session>.{baseline,deviation,prediction}. Optionally the latest
// baseline of every driver is kept in a JetStream key-value bucket.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/publish"
)

const DefaultBucket = "irm-baselines"

type (
	Publisher struct {
		conn      *nats.Conn
		ownsConn  bool
		kv        jetstream.KeyValue
		bucket    string
		bucketTTL time.Duration
		l         *log.Logger
	}
	Option func(*Publisher)
)

var _ publish.Publisher = (*Publisher)(nil)

// WithBaselineBucket stores the latest baseline per session and driver
// under the key baseline.<session>.<driver>.
func WithBaselineBucket(bucket string, ttl time.Duration) Option {
	return func(p *Publisher) {
		p.bucket = bucket
		p.bucketTTL = ttl
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.l = l
	}
}

func NewPublisher(ctx context.Context, conn *nats.Conn, opts ...Option) (*Publisher, error) {
	ret := &Publisher{
		conn: conn,
		l:    log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.bucket != "" {
		if err := ret.setupKV(ctx); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Connect dials the server and creates a publisher owning the connection.
func Connect(ctx context.Context, url string, opts ...Option) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("irm"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	ret, err := NewPublisher(ctx, conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ret.ownsConn = true
	return ret, nil
}

func (p *Publisher) setupKV(ctx context.Context) error {
	js, err := jetstream.New(p.conn)
	if err != nil {
		return err
	}
	p.kv, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: p.bucket,
		TTL:    p.bucketTTL,
	})
	return err
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.l.Debug("published", log.String("subject", subject), log.Int("size", len(data)))
	return nil
}

func (p *Publisher) PublishBaseline(ctx context.Context, b *model.DriverBaseline) error {
	if err := p.publish(publish.Subject(b.Session, publish.KindBaseline), b); err != nil {
		return err
	}
	if p.kv == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	key := BaselineKey(b.Session, b.Driver)
	rev, err := p.kv.Put(ctx, key, data)
	p.l.Debug("baseline put", log.String("key", key), log.Uint64("rev", rev), log.ErrorField(err))
	return err
}

func (p *Publisher) PublishDeviations(
	_ context.Context,
	session string,
	d []model.StateDeviation,
) error {
	if len(d) == 0 {
		return nil
	}
	return p.publish(publish.Subject(session, publish.KindDeviation), d)
}

func (p *Publisher) PublishPrediction(_ context.Context, pred *model.Prediction) error {
	return p.publish(publish.Subject(pred.Session, publish.KindPrediction), pred)
}

// Baseline reads a stored baseline from the bucket.
func (p *Publisher) Baseline(ctx context.Context, session, driver string) (*model.DriverBaseline, error) {
	if p.kv == nil {
		return nil, fmt.Errorf("no baseline bucket configured: %w", model.ErrInvalidInput)
	}
	entry, err := p.kv.Get(ctx, BaselineKey(session, driver))
	if err != nil {
		return nil, err
	}
	var ret model.DriverBaseline
	if err := json.Unmarshal(entry.Value(), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func BaselineKey(session, driver string) string {
	return "baseline." + publish.Token(session) + "." + publish.Token(driver)
}

func (p *Publisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.l.Warn("flush failed", log.ErrorField(err))
	}
	if p.ownsConn {
		p.conn.Close()
	}
}
