package main

import (
	"context"
	"fmt"
	"log"

	"sucupira/internal/config"
	"sucupira/internal/metrics"
	"sucupira/internal/metrics/datadog"
)

// initMetrics installs the configured backend and returns the function that
// flushes and uninstalls it. With no backend configured the nop backend stays.
func initMetrics(ctx context.Context, cfg *config.Config, runID string, logger *log.Logger) (func(), error) {
	switch cfg.Metrics.Backend {
	case "datadog":
		// Datadog backend:
		//   - buffers metrics and submits periodically (default once per minute)
		//   - submits one final time at shutdown (Close())
		tags := append(datadog.ParseTagsCSV(cfg.Metrics.Tags), "run_id:"+runID)
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    "sucupira",
			Tags:       tags,
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}, nil
		}
		logger.Printf("metrics: backend=datadog tags=%v", tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil

	case "":
		return func() {}, nil
	}
	return nil, usageErr(fmt.Errorf("metrics: unknown backend %q", cfg.Metrics.Backend))
}
