// Package usage collects anonymous usage events into a durable on-disk
// queue and flushes them to the registry in batches.
//
// Events survive process restarts: every record persists the queue before
// returning, and a failed flush puts the batch back. Delivery is therefore
// at-least-once; the receiving side deduplicates on event id.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/workflowlabs/patternbank/internal/contributor"
	"github.com/workflowlabs/patternbank/internal/pattern"
)

const instrumentationName = "github.com/workflowlabs/patternbank/internal/usage"

// BatchSize is how many events one flush attempt sends.
const BatchSize = 10

// queueFileName is the queue's file under the workspace directory.
const queueFileName = "telemetry-queue.json"

// ErrTelemetryDisabled is returned by Flush when the contributor has not
// enabled telemetry.
var ErrTelemetryDisabled = errors.New("telemetry is disabled")

// EventType classifies a usage event.
type EventType string

const (
	EventApplied EventType = "pattern-applied"
	EventSuccess EventType = "pattern-success"
	EventFailure EventType = "pattern-failure"
)

// FailureReason is the closed set of reasons a pattern application can fail.
type FailureReason string

const (
	ReasonVersionMismatch   FailureReason = "version-mismatch"
	ReasonMissingDependency FailureReason = "missing-dependency"
	ReasonFileConflict      FailureReason = "file-conflict"
	ReasonPermissionError   FailureReason = "permission-error"
	ReasonSyntaxError       FailureReason = "syntax-error"
	ReasonUnknown           FailureReason = "unknown"
)

// Valid reports whether the reason is one of the closed set.
func (r FailureReason) Valid() bool {
	switch r {
	case ReasonVersionMismatch, ReasonMissingDependency, ReasonFileConflict,
		ReasonPermissionError, ReasonSyntaxError, ReasonUnknown:
		return true
	}
	return false
}

// Event is one anonymous usage record. It carries coarse facts about a
// pattern application only, never free text from the pattern itself.
type Event struct {
	ID               string        `json:"id"`
	Type             EventType     `json:"type"`
	PatternID        string        `json:"patternId"`
	PatternType      pattern.Kind  `json:"patternType"`
	Framework        string        `json:"framework,omitempty"`
	FrameworkVersion string        `json:"frameworkVersion,omitempty"`
	FailureReason    FailureReason `json:"failureReason,omitempty"`
	ContributorID    string        `json:"contributorId,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Sender delivers one batch of events. A non-nil error means the whole batch
// is requeued.
type Sender interface {
	SendEvents(ctx context.Context, events []Event) error
}

// QueueStats summarizes the queue without mutating it.
type QueueStats struct {
	Pending int
	ByType  map[EventType]int
}

// Collector queues events durably and flushes them in batches.
type Collector struct {
	manager *contributor.Manager
	sender  Sender
	logger  *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	queuedCounter  metric.Int64Counter
	flushedCounter metric.Int64Counter

	mu   sync.Mutex
	path string
}

// NewCollector creates a collector persisting its queue under the workspace.
// sender may be nil if only recording is used.
func NewCollector(root string, manager *contributor.Manager, sender Sender, logger *zap.Logger) (*Collector, error) {
	if root == "" {
		return nil, errors.New("workspace root is required")
	}
	if manager == nil {
		return nil, errors.New("contributor manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		manager: manager,
		sender:  sender,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
		path:    filepath.Join(root, contributor.WorkspaceDir, queueFileName),
	}
	c.initMetrics()
	return c, nil
}

func (c *Collector) initMetrics() {
	var err error

	c.queuedCounter, err = c.meter.Int64Counter(
		"patternbank.usage.events_queued_total",
		metric.WithDescription("Total usage events queued"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		c.logger.Warn("failed to create queued counter", zap.Error(err))
	}

	c.flushedCounter, err = c.meter.Int64Counter(
		"patternbank.usage.events_flushed_total",
		metric.WithDescription("Total usage events delivered"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		c.logger.Warn("failed to create flushed counter", zap.Error(err))
	}
}

// RecordApplication queues a pattern-applied event.
func (c *Collector) RecordApplication(ctx context.Context, patternID string, kind pattern.Kind, framework, frameworkVersion string) {
	c.record(ctx, Event{
		Type:             EventApplied,
		PatternID:        patternID,
		PatternType:      kind,
		Framework:        framework,
		FrameworkVersion: frameworkVersion,
	})
}

// RecordSuccess queues a pattern-success event.
func (c *Collector) RecordSuccess(ctx context.Context, patternID string, kind pattern.Kind, framework, frameworkVersion string) {
	c.record(ctx, Event{
		Type:             EventSuccess,
		PatternID:        patternID,
		PatternType:      kind,
		Framework:        framework,
		FrameworkVersion: frameworkVersion,
	})
}

// RecordFailure queues a pattern-failure event. A reason outside the closed
// set is recorded as unknown.
func (c *Collector) RecordFailure(ctx context.Context, patternID string, kind pattern.Kind, framework, frameworkVersion string, reason FailureReason) {
	if !reason.Valid() {
		reason = ReasonUnknown
	}
	c.record(ctx, Event{
		Type:             EventFailure,
		PatternID:        patternID,
		PatternType:      kind,
		Framework:        framework,
		FrameworkVersion: frameworkVersion,
		FailureReason:    reason,
	})
}

// record appends an event to the durable queue. When telemetry is disabled
// the event is silently dropped; recording must never fail a user action, so
// queue persistence errors are logged and swallowed too.
func (c *Collector) record(ctx context.Context, event Event) {
	ctx, span := c.tracer.Start(ctx, "usage.record")
	defer span.End()
	span.SetAttributes(attribute.String("event_type", string(event.Type)))

	if !c.manager.TelemetryEnabled() {
		return
	}

	event.ID = uuid.New().String()
	event.Timestamp = time.Now().UTC()
	if id, err := c.manager.GetOrCreateID(); err == nil {
		event.ContributorID = id
	} else {
		c.logger.Warn("failed to resolve contributor id for event", zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	queue, err := c.load()
	if err != nil {
		c.logger.Warn("failed to load telemetry queue", zap.Error(err))
		queue = nil
	}

	queue = append(queue, event)
	if err := c.persist(queue); err != nil {
		c.logger.Warn("failed to persist telemetry queue", zap.Error(err))
		return
	}

	if c.queuedCounter != nil {
		c.queuedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(event.Type)),
		))
	}
}

// Pending returns the number of queued events.
func (c *Collector) Pending() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue, err := c.load()
	if err != nil {
		return 0, err
	}
	return len(queue), nil
}

// Stats reads the queue and reports per-type counts without mutating it.
func (c *Collector) Stats() (*QueueStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue, err := c.load()
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Pending: len(queue),
		ByType:  make(map[EventType]int),
	}
	for _, e := range queue {
		stats.ByType[e.Type]++
	}
	return stats, nil
}

// Flush drains the queue in batches of BatchSize. A failed batch is put back
// at the head of the queue and the flush stops; already-delivered batches
// stay delivered. Returns how many events were sent.
func (c *Collector) Flush(ctx context.Context) (int, error) {
	ctx, span := c.tracer.Start(ctx, "usage.flush")
	defer span.End()

	if !c.manager.TelemetryEnabled() {
		return 0, ErrTelemetryDisabled
	}
	if c.sender == nil {
		return 0, errors.New("no event sender configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	queue, err := c.load()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	sent := 0
	for len(queue) > 0 {
		n := BatchSize
		if len(queue) < n {
			n = len(queue)
		}
		batch := queue[:n]

		if err := c.sender.SendEvents(ctx, batch); err != nil {
			// Requeue: the unsent remainder, batch included, goes back.
			if perr := c.persist(queue); perr != nil {
				c.logger.Error("failed to requeue telemetry events",
					zap.Error(perr),
					zap.Int("events", len(queue)),
				)
			}
			span.RecordError(err)
			return sent, fmt.Errorf("failed to send event batch: %w", err)
		}

		queue = queue[n:]
		sent += n

		// Persist after every delivered batch so a crash mid-flush cannot
		// resend more than one batch.
		if err := c.persist(queue); err != nil {
			span.RecordError(err)
			return sent, err
		}

		if c.flushedCounter != nil {
			c.flushedCounter.Add(ctx, int64(n))
		}
	}

	span.SetAttributes(attribute.Int("sent", sent))
	c.logger.Debug("flushed telemetry queue", zap.Int("sent", sent))
	return sent, nil
}

// load reads the queue file. A missing file is an empty queue.
func (c *Collector) load() ([]Event, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read telemetry queue: %w", err)
	}

	var queue []Event
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry queue: %w", err)
	}
	return queue, nil
}

// persist atomically replaces the queue file. An empty queue removes it.
func (c *Collector) persist(queue []Event) error {
	if len(queue) == 0 {
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove telemetry queue: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize telemetry queue: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".telemetry-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write telemetry queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set queue permissions: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace telemetry queue: %w", err)
	}
	return nil
}
