// Package local is an in-process Publisher. Subscribers receive every
// message published after they subscribed.
package local

import (
	"context"
	"errors"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/publish"
)

var ErrClosed = errors.New("publisher closed")

type Message struct {
	Subject string
	Kind    string
	Payload any
}

type Publisher struct {
	source chan Message
	server BroadcastServer[Message]
	done   chan struct{}
}

var _ publish.Publisher = (*Publisher)(nil)

func New(name string) *Publisher {
	source := make(chan Message)
	return &Publisher{
		source: source,
		server: NewBroadcastServer(name, (<-chan Message)(source)),
		done:   make(chan struct{}),
	}
}

func (p *Publisher) Subscribe() <-chan Message {
	return p.server.Subscribe()
}

func (p *Publisher) CancelSubscription(ch <-chan Message) {
	p.server.CancelSubscription(ch)
}

func (p *Publisher) send(ctx context.Context, msg Message) error {
	select {
	case p.source <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) PublishBaseline(ctx context.Context, b *model.DriverBaseline) error {
	return p.send(ctx, Message{
		Subject: publish.Subject(b.Session, publish.KindBaseline),
		Kind:    publish.KindBaseline,
		Payload: b,
	})
}

func (p *Publisher) PublishDeviations(
	ctx context.Context,
	session string,
	d []model.StateDeviation,
) error {
	if len(d) == 0 {
		return nil
	}
	return p.send(ctx, Message{
		Subject: publish.Subject(session, publish.KindDeviation),
		Kind:    publish.KindDeviation,
		Payload: d,
	})
}

func (p *Publisher) PublishPrediction(ctx context.Context, pred *model.Prediction) error {
	return p.send(ctx, Message{
		Subject: publish.Subject(pred.Session, publish.KindPrediction),
		Kind:    publish.KindPrediction,
		Payload: pred,
	})
}

func (p *Publisher) Close() {
	select {
	case <-p.done:
	default:
		close(p.done)
		p.server.Close()
	}
}
