package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question answering HTTP API",
	Long: `Starts the HTTP API:
  POST /api/ask       {"question": "..."}
  POST /api/retrieve  {"query": "...", "top_k": 5}
  GET  /api/health
  GET  /metrics`,
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

		assistant, err := rt.assistant()
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		handler := newRouter(&api{
			retriever: rt.retriever(),
			assistant: assistant,
			topK:      cfg.Retrieve.TopK,
			log:       log,
		}, rt.registry, cfg.Server.CORSOrigins)

		srv := &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("api server starting", "addr", addr, "collection", rt.spec.Name)
			errCh <- srv.ListenAndServe()
		}()

		ctx := cmd.Context()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			log.Info("shutdown signal received")
		}

		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	rootCmd.AddCommand(serveCmd)
}
