package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/reforma-ai/ragqa/engine/domain"
	"github.com/reforma-ai/ragqa/pkg/natsutil"
)

// DefaultSubject carries document batches to ingestion workers.
const DefaultSubject = "ragqa.ingest"

// Batch is one published set of documents.
type Batch struct {
	ID        string            `json:"id"`
	Documents []domain.Document `json:"documents"`
}

// Outcome is published on <subject>.report after every batch.
type Outcome struct {
	BatchID string `json:"batch_id"`
	Report  Report `json:"report"`
	Error   string `json:"error,omitempty"`
}

// DeadLetter is published on <subject>.dlq when a batch run fails.
type DeadLetter struct {
	Batch Batch  `json:"batch"`
	Error string `json:"error"`
}

// ReportSubject returns the subject outcomes are published on.
func ReportSubject(subject string) string { return subject + ".report" }

// DLQSubject returns the dead-letter subject.
func DLQSubject(subject string) string { return subject + ".dlq" }

// PublishBatch sends docs to the ingestion workers.
func PublishBatch(ctx context.Context, nc *nats.Conn, subject string, b Batch) error {
	return natsutil.Publish(ctx, nc, subject, b)
}

// ConsumerOpts configures StartConsumer.
type ConsumerOpts struct {
	Subject string
	Queue   string
	Logger  *slog.Logger
}

// StartConsumer ingests every Batch received on opts.Subject. Each run's
// outcome is published on ReportSubject; failed runs also go to DLQSubject.
func StartConsumer(nc *nats.Conn, ing *Ingestor, opts ConsumerOpts) (*nats.Subscription, error) {
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return natsutil.Subscribe(nc, opts.Subject, natsutil.SubscribeOpts{Queue: opts.Queue, Logger: log},
		func(ctx context.Context, b Batch) {
			log.Info("batch received", "batch", b.ID, "documents", len(b.Documents))
			rep, err := ing.Ingest(ctx, b.Documents)

			out := Outcome{BatchID: b.ID, Report: rep}
			if err != nil {
				out.Error = err.Error()
				log.Error("batch failed", "batch", b.ID, "err", err)
				if perr := natsutil.Publish(ctx, nc, DLQSubject(opts.Subject), DeadLetter{Batch: b, Error: err.Error()}); perr != nil {
					log.Error("dead-letter publish failed", "batch", b.ID, "err", perr)
				}
			}
			if perr := natsutil.Publish(ctx, nc, ReportSubject(opts.Subject), out); perr != nil {
				log.Error("report publish failed", "batch", b.ID, "err", perr)
			}
		})
}
