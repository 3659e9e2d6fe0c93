package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/db"
	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const maxRetries = 10

// IngestJob asks the worker to index an export stored under ObjectKey.
type IngestJob struct {
	Message       string    `json:"message"`
	Collection    string    `json:"collection"`
	ObjectKey     string    `json:"object_key"`
	CorrelationID string    `json:"correlation_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

// RebuildEvent is broadcast on TopicRebuild after an ingest finished.
type RebuildEvent struct {
	Collection    string `json:"collection"`
	ObjectKey     string `json:"object_key"`
	CorrelationID string `json:"correlation_id"`
	ExportHash    string `json:"export_hash"`
	Documents     int    `json:"documents"`
}

// ExportLoader reads a stored export snapshot.
type ExportLoader interface {
	LoadExport(ctx context.Context, key string) (*export.Payload, error)
}

// SnapshotRecorder remembers which export a collection was built from.
type SnapshotRecorder interface {
	Save(ctx context.Context, snap db.Snapshot) error
}

// Processor handles ingest jobs in the worker.
type Processor struct {
	Ingest    *ingest.Service
	Exports   ExportLoader
	Snapshots SnapshotRecorder
	Channel   Publisher
}

// ProcessIngestMessage indexes the export named by body and announces the
// result on TopicRebuild.
func (p *Processor) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var job IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("failed to decode ingest job: %w", err)
	}
	if strings.TrimSpace(job.Collection) == "" || strings.TrimSpace(job.ObjectKey) == "" {
		return fmt.Errorf("ingest job %q: missing collection or object key", job.CorrelationID)
	}

	logger.Info("[Queue] Ingest job received",
		"collection", job.Collection,
		"key", job.ObjectKey,
		"correlation_id", job.CorrelationID,
	)

	payload, err := p.Exports.LoadExport(ctx, job.ObjectKey)
	if err != nil {
		return err
	}
	res, err := p.Ingest.Ingest(ctx, job.Collection, payload)
	if err != nil {
		return err
	}

	if p.Snapshots != nil {
		err := p.Snapshots.Save(ctx, db.Snapshot{
			Collection:    job.Collection,
			ObjectKey:     job.ObjectKey,
			ContentHash:   res.ExportHash,
			CorrelationID: job.CorrelationID,
			Documents:     res.Documents,
		})
		if err != nil {
			logger.Warn("[Queue] Failed to record snapshot", "collection", job.Collection, "err", err)
		}
	}

	event, err := json.Marshal(RebuildEvent{
		Collection:    job.Collection,
		ObjectKey:     job.ObjectKey,
		CorrelationID: job.CorrelationID,
		ExportHash:    res.ExportHash,
		Documents:     res.Documents,
	})
	if err != nil {
		return err
	}
	if err := PublishTopic(p.Channel, TopicRebuild, event); err != nil {
		return fmt.Errorf("failed to announce rebuild: %w", err)
	}

	logger.Info("[Queue] Ingest job done",
		"collection", job.Collection,
		"documents", res.Documents,
		"removed", res.Removed,
		"correlation_id", job.CorrelationID,
	)
	return nil
}

// HandleProcessingError sends a failed message to the retry queue, or to
// the dead letter queue once it has been retried maxRetries times.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	if retries >= maxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
		if err := ch.Publish("", dlqName, false, false, publishing(msg.Body, msg.Headers)); err != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", err)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	if err := ch.Publish("", retryName, false, false, publishing(msg.Body, headers)); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// SubscribeRebuild binds a private queue to TopicRebuild and calls handle
// for every event until ctx is done or the channel closes.
func SubscribeRebuild(ctx context.Context, ch *amqp091.Channel, handle func(context.Context, RebuildEvent) error) error {
	if err := SetupQueues(ch, nil); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("rebuild queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, TopicRebuild, Exchange, false, nil); err != nil {
		return fmt.Errorf("rebuild queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("rebuild consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Warn("[Queue] Rebuild subscription closed")
					return
				}
				var event RebuildEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					logger.Error("[Queue] Invalid rebuild event", "err", err)
					continue
				}
				if err := handle(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("[Queue] Rebuild failed", "collection", event.Collection, "err", err)
				}
			}
		}
	}()
	return nil
}
