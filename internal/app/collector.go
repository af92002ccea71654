// Package service wires the pipeline stages: the Collector feeding
// ville_queue, the Enrichment pool consuming it and the Recommender serving
// interaction sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/adapters/atomicfile"
	"github.com/okian/villes/internal/adapters/mq/queue"
	"github.com/okian/villes/internal/adapters/source"
	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/pkg/logger"
	"github.com/okian/villes/pkg/metrics"
)

// Resolver turns image references into local files.
type Resolver interface {
	ResolveAll(ctx context.Context, cities []model.City) ([]model.City, error)
}

// Collector fetches city records, resolves their images and publishes one
// message per record on ville_queue.
type Collector struct {
	source       source.Source
	resolver     Resolver
	pub          queue.Publisher
	snapshotPath string
	interval     time.Duration
	logger       logger.Logger
}

// NewCollector creates a collector over src publishing to pub.
func NewCollector(src source.Source, pub queue.Publisher, opts ...CollectorOption) *Collector {
	c := &Collector{source: src, pub: pub}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("collector")
	}
	return c
}

// Collect queries the source once and resolves every image. A failed query
// fails the whole batch with source.ErrSourceQuery; an unresolved image
// leaves the record with a nil image.
func (c *Collector) Collect(ctx context.Context) ([]model.City, error) {
	cities, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if c.resolver == nil {
		return cities, nil
	}
	return c.resolver.ResolveAll(ctx, cities)
}

// Publish sends each record to ville_queue in order. It stops at the first
// failure; the records already published stay published.
func (c *Collector) Publish(ctx context.Context, cities []model.City) (int, error) {
	for i, city := range cities {
		payload, err := json.Marshal(city)
		if err != nil {
			return i, fmt.Errorf("encode %s: %w", city.Identity(), err)
		}
		if err := c.pub.Publish(ctx, queue.VilleQueue, payload, ""); err != nil {
			return i, fmt.Errorf("publish %s: %w", city.Identity(), err)
		}
	}
	return len(cities), nil
}

// RunOnce collects, snapshots and publishes one batch.
func (c *Collector) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	cities, err := c.Collect(ctx)
	if err != nil {
		metrics.RecordCollectRun("source_error")
		metrics.RecordErrorByComponent("collector", "source")
		return 0, err
	}

	if c.snapshotPath != "" {
		if err := c.writeSnapshot(cities); err != nil {
			c.logger.Warn(ctx, "snapshot not written", logger.String("path", c.snapshotPath), logger.Error(err))
		}
	}

	n, err := c.Publish(ctx, cities)
	metrics.RecordCollected(n)
	if err != nil {
		metrics.RecordCollectRun("publish_error")
		metrics.RecordErrorByComponent("collector", "publish")
		return n, err
	}
	metrics.RecordCollectRun("ok")

	withImage := 0
	for _, city := range cities {
		if city.HasImage() {
			withImage++
		}
	}
	c.logger.Info(ctx, "collection published",
		logger.Int("records", n),
		logger.Int("with_image", withImage),
		logger.Duration("took", time.Since(start)),
	)
	return n, nil
}

// Run collects once, or every interval until ctx is done. A failed source
// query only fails its own run.
func (c *Collector) Run(ctx context.Context) error {
	if c.interval <= 0 {
		_, err := c.RunOnce(ctx)
		return err
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, source.ErrSourceQuery) {
				return err
			}
			c.logger.Error(ctx, "collection run failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Collector) writeSnapshot(cities []model.City) error {
	if err := os.MkdirAll(filepath.Dir(c.snapshotPath), 0o755); err != nil {
		return err
	}
	if cities == nil {
		cities = []model.City{}
	}
	data, err := json.MarshalIndent(cities, "", "    ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(c.snapshotPath, data, 0o644)
}
