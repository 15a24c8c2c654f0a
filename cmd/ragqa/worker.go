package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/reforma-ai/ragqa/engine/ingest"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Ingest document batches published on NATS",
	Long: `Subscribes to the ingest subject, ingests every batch it receives and
publishes the run report on <subject>.report. Failed batches also go to
<subject>.dlq.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg, log)
		if err != nil {
			return err
		}
		defer rt.Close()

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("ragqa-worker"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn("nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		sub, err := ingest.StartConsumer(nc, rt.ingestor(nil), ingest.ConsumerOpts{
			Subject: cfg.NATS.Subject,
			Queue:   cfg.NATS.Queue,
			Logger:  log,
		})
		if err != nil {
			return err
		}
		log.Info("worker started", "subject", cfg.NATS.Subject, "queue", cfg.NATS.Queue)

		<-cmd.Context().Done()
		log.Info("shutdown signal received")
		if err := sub.Drain(); err != nil {
			log.Warn("drain subscription", "err", err)
		}
		return nc.Drain()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
