// Package natsutil publishes and consumes JSON messages over NATS, carrying
// the OpenTelemetry trace context in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier lets the otel propagator read and write nats.Msg headers.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish JSON-encodes v and publishes it on subject with the trace context of ctx.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeOpts configures Subscribe.
type SubscribeOpts struct {
	// Queue joins a queue group so each message reaches one subscriber.
	Queue  string
	Logger *slog.Logger
}

// Subscribe decodes JSON messages of type T on subject and hands them to
// handler with the extracted trace context. Undecodable messages are logged
// and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, opts SubscribeOpts, handler func(context.Context, T)) (*nats.Subscription, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "bytes", len(msg.Data), "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if opts.Queue != "" {
		sub, err = nc.QueueSubscribe(subject, opts.Queue, cb)
	} else {
		sub, err = nc.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("natsutil: subscribe %s: %w", subject, err)
	}
	return sub, nil
}
