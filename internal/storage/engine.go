// Package storage implements the key-value engine on top of the segmented
// command log: an in-memory index rebuilt from the log at open time, and a
// compactor that rewrites live data once enough of the log is stale.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sajjad-MoBe/kvs/internal/codec"
	"github.com/sajjad-MoBe/kvs/internal/config"
	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
	"github.com/sajjad-MoBe/kvs/internal/index"
	"github.com/sajjad-MoBe/kvs/internal/shared"
	"github.com/sajjad-MoBe/kvs/internal/wal"
)

const tracerName = "github.com/sajjad-MoBe/kvs/internal/storage"

// Engine is a single-process key-value store. It is not safe for concurrent
// use; every call runs to completion before the next one may start.
type Engine struct {
	path      string
	config    config.Config
	log       *wal.Manager
	index     *index.Index
	compactor *Compactor
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *shared.Logger
	closed    bool
}

// Stats is a point-in-time view of the engine's storage.
type Stats struct {
	Keys          int
	Segments      int
	ActiveSegment uint64
	DiskBytes     int64
	StaleBytes    int64
	Log           wal.Metrics
}

type options struct {
	config     *config.Config
	logger     *shared.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
}

// Option configures Open
type Option func(*options)

// WithConfig overrides the default engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger sets the logger used by the engine and its log.
func WithLogger(logger *shared.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// Open opens the store in directory path, creating it if needed, and rebuilds
// the index by replaying every segment.
func Open(path string, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.config == nil {
		o.config = config.New()
	}
	if err := o.config.Validate(); err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput, "invalid configuration", err)
	}
	if o.logger == nil {
		o.logger = shared.DefaultLogger
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	log, err := wal.Open(path, wal.Config{
		MaxSegmentBytes: o.config.MaxSegmentBytes,
		SyncWrites:      o.config.SyncWrites,
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	idx, stale, err := index.Build(log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	metrics := NewMetrics(o.registerer)
	e := &Engine{
		path:    path,
		config:  *o.config,
		log:     log,
		index:   idx,
		metrics: metrics,
		tracer:  o.tracer,
		logger:  o.logger,
	}
	e.compactor = NewCompactor(log, idx, o.config.CompactionThreshold, metrics, o.tracer, o.logger)
	e.compactor.AddStale(stale)
	e.refreshGauges()

	e.logger.Info("opened store %s: %d keys, %d stale bytes", path, idx.Len(), stale)
	return e, nil
}

// traceOperation runs fn inside a span and records its outcome.
func (e *Engine) traceOperation(ctx context.Context, operation, key string, fn func(context.Context) (string, error)) error {
	ctx, span := e.tracer.Start(ctx, "storage."+operation)
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.String("operation", operation),
		attribute.Int("key.size", len(key)),
		attribute.String("result", result),
	)
	if err != nil && !kvErr.IsKeyNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	e.metrics.recordOperation(operation, result, duration, err)
	return err
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return kvErr.New(kvErr.ErrorTypeInternal, "engine is closed", nil)
	}
	return nil
}

// Get returns the value stored under key. A missing key is reported through
// found and is not an error.
func (e *Engine) Get(ctx context.Context, key string) (value string, found bool, err error) {
	err = e.traceOperation(ctx, "get", key, func(context.Context) (string, error) {
		if err := e.checkOpen(); err != nil {
			return "", err
		}

		loc, ok := e.index.Get(key)
		if !ok {
			return "miss", nil
		}

		cmd, err := e.readLive(key, loc)
		if err != nil {
			return "", err
		}
		value, found = cmd.Value, true
		return "hit", nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// readLive reads the command the index holds for key and checks that it is
// the Set it should be.
func (e *Engine) readLive(key string, loc wal.Location) (codec.Command, error) {
	cmd, err := e.log.Read(loc)
	if err != nil {
		if kvErr.IsNotFound(err) {
			return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptIndex,
				fmt.Sprintf("index entry for %q points at a missing segment", key), err)
		}
		return codec.Command{}, err
	}

	switch cmd.Kind {
	case codec.KindSet:
		if cmd.Key != key {
			return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptIndex,
				fmt.Sprintf("index entry for %q points at key %q", key, cmd.Key), nil)
		}
		return cmd, nil
	case codec.KindRemove:
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptIndex,
			fmt.Sprintf("index entry for %q points at a remove command", key), nil)
	default:
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptIndex,
			fmt.Sprintf("index entry for %q points at %s", key, cmd.Kind), nil)
	}
}

// Set stores value under key, replacing any previous value.
func (e *Engine) Set(ctx context.Context, key, value string) error {
	return e.traceOperation(ctx, "set", key, func(ctx context.Context) (string, error) {
		if err := e.checkOpen(); err != nil {
			return "", err
		}

		loc, err := e.log.Append(codec.Set(key, value))
		if err != nil {
			return "", fmt.Errorf("failed to append set: %w", err)
		}

		result := "created"
		if prev, replaced := e.index.Set(key, loc); replaced {
			e.compactor.AddStale(prev.Length)
			result = "updated"
		}

		return result, e.afterWrite(ctx)
	})
}

// Remove deletes key. It fails with a KEY_NOT_FOUND error, and writes nothing,
// when the key is absent.
func (e *Engine) Remove(ctx context.Context, key string) error {
	return e.traceOperation(ctx, "remove", key, func(ctx context.Context) (string, error) {
		if err := e.checkOpen(); err != nil {
			return "", err
		}

		if _, ok := e.index.Get(key); !ok {
			return "miss", kvErr.New(kvErr.ErrorTypeKeyNotFound, "Key not found", nil)
		}

		loc, err := e.log.Append(codec.Remove(key))
		if err != nil {
			return "", fmt.Errorf("failed to append remove: %w", err)
		}

		prev, _ := e.index.Remove(key)
		e.compactor.AddStale(prev.Length + loc.Length)

		return "removed", e.afterWrite(ctx)
	})
}

func (e *Engine) afterWrite(ctx context.Context) error {
	if err := e.compactor.MaybeCompact(ctx); err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	e.refreshGauges()
	return nil
}

// Compact rewrites the live data regardless of the stale-byte threshold.
func (e *Engine) Compact(ctx context.Context) error {
	return e.traceOperation(ctx, "compact", "", func(ctx context.Context) (string, error) {
		if err := e.checkOpen(); err != nil {
			return "", err
		}
		err := e.compactor.Compact(ctx)
		e.refreshGauges()
		return "done", err
	})
}

// Len returns the number of live keys.
func (e *Engine) Len() int {
	return e.index.Len()
}

// Keys returns the live keys in sorted order.
func (e *Engine) Keys() []string {
	return e.index.Keys()
}

// Path returns the directory the engine stores its segments in.
func (e *Engine) Path() string {
	return e.path
}

// Stats returns the current storage statistics.
func (e *Engine) Stats() (Stats, error) {
	disk, err := e.log.DiskSize()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Keys:          e.index.Len(),
		Segments:      len(e.log.Generations()),
		ActiveSegment: e.log.ActiveGeneration(),
		DiskBytes:     disk,
		StaleBytes:    e.compactor.Stale(),
		Log:           e.log.GetMetrics(),
	}, nil
}

func (e *Engine) refreshGauges() {
	disk, err := e.log.DiskSize()
	if err != nil {
		e.logger.Warn("failed to measure disk usage: %v", err)
		return
	}
	e.metrics.updateStorage(e.index.Len(), len(e.log.Generations()), disk, e.compactor.Stale())
}

// Close flushes and releases the active segment. The engine cannot be used afterwards.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.log.Sync(); err != nil {
		e.log.Close()
		return fmt.Errorf("failed to flush log: %w", err)
	}
	if err := e.log.Close(); err != nil {
		return fmt.Errorf("failed to close log: %w", err)
	}
	return nil
}
