package storage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sajjad-MoBe/kvs/internal/codec"
	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
	"github.com/sajjad-MoBe/kvs/internal/index"
	"github.com/sajjad-MoBe/kvs/internal/shared"
	"github.com/sajjad-MoBe/kvs/internal/wal"
)

// Compactor bounds disk usage by copying the live commands into a fresh
// segment and deleting every older one. It runs synchronously, on the write
// that pushes the stale-byte count past the threshold.
type Compactor struct {
	log            *wal.Manager
	index          *index.Index
	threshold      int64
	stale          int64
	metrics        *Metrics
	tracer         trace.Tracer
	logger         *shared.Logger
	lastCompaction time.Time
}

// NewCompactor creates a compactor over log and idx.
func NewCompactor(log *wal.Manager, idx *index.Index, threshold int64, metrics *Metrics, tracer trace.Tracer, logger *shared.Logger) *Compactor {
	return &Compactor{
		log:       log,
		index:     idx,
		threshold: threshold,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}
}

// AddStale accounts for n more unreachable log bytes.
func (c *Compactor) AddStale(n int64) {
	c.stale += n
}

// Stale returns the unreachable log bytes accumulated since the last compaction.
func (c *Compactor) Stale() int64 {
	return c.stale
}

// MaybeCompact compacts if the stale bytes exceed the threshold.
func (c *Compactor) MaybeCompact(ctx context.Context) error {
	if c.stale <= c.threshold {
		return nil
	}
	return c.Compact(ctx)
}

// Compact rewrites the live data into a new segment and deletes the segments
// it supersedes.
func (c *Compactor) Compact(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "storage.compaction")
	defer span.End()

	start := time.Now()
	before, err := c.log.DiskSize()
	if err != nil {
		return err
	}

	gen, err := c.rewrite(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := c.dropBefore(gen); err != nil {
		span.RecordError(err)
		return err
	}

	after, err := c.log.DiskSize()
	if err != nil {
		return err
	}

	duration := time.Since(start)
	c.stale = 0
	c.lastCompaction = time.Now()
	c.metrics.recordCompaction(duration, before-after)
	span.SetAttributes(
		attribute.Int64("segment", int64(gen)),
		attribute.Int("keys", c.index.Len()),
		attribute.Int64("bytes.before", before),
		attribute.Int64("bytes.after", after),
	)
	c.logger.Info("compacted %d keys into segment %d: %d -> %d bytes in %s",
		c.index.Len(), gen, before, after, duration)
	return nil
}

// rewrite copies every live key into a new committed segment, points the index
// at the copies and returns the new segment's generation. On error the index
// and the committed segments are left untouched.
func (c *Compactor) rewrite(ctx context.Context) (uint64, error) {
	writer, err := c.log.CreateSegment()
	if err != nil {
		return 0, fmt.Errorf("failed to create compaction segment: %w", err)
	}
	defer writer.Abort()

	keys := c.index.Keys()
	moved := make(map[string]wal.Location, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		loc, _ := c.index.Get(key)
		cmd, err := c.log.Read(loc)
		if err != nil {
			if kvErr.IsNotFound(err) {
				return 0, kvErr.New(kvErr.ErrorTypeCorruptIndex,
					fmt.Sprintf("index entry for %q points at a missing segment", key), err)
			}
			return 0, fmt.Errorf("failed to read %q for compaction: %w", key, err)
		}
		if cmd.Kind != codec.KindSet || cmd.Key != key {
			return 0, kvErr.New(kvErr.ErrorTypeCorruptIndex,
				fmt.Sprintf("index entry for %q points at %s", key, cmd), nil)
		}

		newLoc, err := writer.Append(codec.Set(key, cmd.Value))
		if err != nil {
			return 0, fmt.Errorf("failed to copy %q: %w", key, err)
		}
		moved[key] = newLoc
	}

	// Later writes must land in a generation newer than the compacted one,
	// otherwise replay would let the copies shadow them.
	if err := c.log.Rollover(); err != nil {
		return 0, fmt.Errorf("failed to start segment after compaction: %w", err)
	}

	if err := writer.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit compaction segment: %w", err)
	}

	for key, loc := range moved {
		c.index.Set(key, loc)
	}
	return writer.ID(), nil
}

// dropBefore deletes every segment older than gen.
func (c *Compactor) dropBefore(gen uint64) error {
	for _, g := range c.log.Generations() {
		if g >= gen {
			break
		}
		if err := c.log.DeleteSegment(g); err != nil {
			return fmt.Errorf("failed to delete compacted segment %d: %w", g, err)
		}
	}
	return nil
}

// LastCompaction returns the time of the last successful compaction
func (c *Compactor) LastCompaction() time.Time {
	return c.lastCompaction
}
