package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/editstack/cutcore/pkg/models"
)

const (
	DeadLetterQueueName    = "export_jobs_dlq"
	DeadLetterExchangeName = "cutcore_dlq"
	RetryQueueName         = "export_jobs_retry"
	MaxRetries             = 3
)

// SetupDeadLetterQueue sets up the dead letter queue infrastructure
func (q *Queue) SetupDeadLetterQueue() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages dead-letter back into the main export
	// queue, which is what makes the delayed redelivery work.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": ExportQueueName,
		"x-message-ttl":             60000, // 1 minute TTL
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	log.Println("Dead letter queue infrastructure set up successfully")
	return nil
}

// PublishToRetryQueue publishes an export job to the retry queue
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.ExportJob, retryCount int) error {
	if retryCount >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, job, "max retries exceeded")
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	headers := amqp.Table{
		"x-retry-count": retryCount + 1,
	}

	// Calculate exponential backoff delay
	delay := calculateBackoffDelay(retryCount)

	err = q.channel.PublishWithContext(ctx,
		"",
		RetryQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      headers,
			Expiration:   fmt.Sprintf("%d", delay.Milliseconds()),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	log.Printf("Export job %s queued for retry #%d in %v", job.ID, retryCount+1, delay)
	return nil
}

// PublishToDeadLetterQueue publishes a failed export job to the dead letter queue
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.ExportJob, reason string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	headers := amqp.Table{
		"x-failure-reason": reason,
		"x-failed-at":      time.Now().Format(time.RFC3339),
	}

	err = q.channel.PublishWithContext(ctx,
		DeadLetterExchangeName,
		DeadLetterQueueName,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	log.Printf("Export job %s moved to dead letter queue: %s", job.ID, reason)
	return nil
}

// ConsumeDLQ consumes messages from the dead letter queue. The worker
// uses it to log dead exports and reconcile their database state.
func (q *Queue) ConsumeDLQ(ctx context.Context, handler func(*models.ExportJob, string) error) error {
	msgs, err := q.channel.Consume(
		DeadLetterQueueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register DLQ consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var job models.ExportJob
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					msg.Nack(false, false)
					continue
				}

				reason := ""
				if val, ok := msg.Headers["x-failure-reason"].(string); ok {
					reason = val
				}

				if err := handler(&job, reason); err != nil {
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	return nil
}

// calculateBackoffDelay calculates exponential backoff delay
func calculateBackoffDelay(retryCount int) time.Duration {
	// Exponential backoff: 1min, 2min, 4min
	baseDelay := 1 * time.Minute
	delay := baseDelay * (1 << retryCount) // 2^retryCount

	// Cap at 1 hour
	if delay > 1*time.Hour {
		delay = 1 * time.Hour
	}

	return delay
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}
