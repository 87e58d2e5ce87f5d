package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const publishTimeout = 5 * time.Second

// RabbitMQ publishes jobs to, and consumes them from, a durable queue.
type RabbitMQ struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    *slog.Logger

	publishMu sync.Mutex
}

// DialRabbitMQ connects to url and declares the durable queue queueName.
func DialRabbitMQ(url, queueName string, logger *slog.Logger) (*RabbitMQ, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queueName, err)
	}

	return &RabbitMQ{
		conn:      conn,
		channel:   ch,
		queueName: queueName,
		logger:    logger,
	}, nil
}

// Close closes the channel and the connection.
func (c *RabbitMQ) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Dispatch publishes job as a persistent JSON message.
func (c *RabbitMQ) Dispatch(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	err = c.channel.PublishWithContext(
		ctx,
		"",          // exchange
		c.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Timestamp:    job.CreatedAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// ConsumeConfig configures Consume.
type ConsumeConfig struct {
	Handler Handler
	Workers int
	Timeout time.Duration
}

// Consume processes deliveries with cfg.Workers goroutines until ctx is
// cancelled or the broker closes the channel. Every delivery is acked once
// handled, whether or not the job succeeded: failed jobs are not retried.
func (c *RabbitMQ) Consume(ctx context.Context, cfg ConsumeConfig) error {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if err := c.channel.Qos(
		workers, // prefetch count
		0,       // prefetch size
		false,   // global
	); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.logger.Info("consuming jobs", "queue", c.queueName, "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d, ok := <-msgs:
					if !ok {
						c.logger.Warn("delivery channel closed")
						return nil
					}
					c.handleDelivery(ctx, d, cfg)
				}
			}
		})
	}
	return g.Wait()
}

func (c *RabbitMQ) handleDelivery(ctx context.Context, d amqp.Delivery, cfg ConsumeConfig) {
	defer func() {
		if err := d.Ack(false); err != nil {
			c.logger.Error("ack delivery", "delivery_tag", d.DeliveryTag, "error", err)
		}
	}()

	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.logger.Error("discarding malformed job", "message_id", d.MessageId, "error", err)
		return
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := execute(ctx, cfg.Handler, job); err != nil {
		c.logger.Error("job failed", "job_id", job.ID, "action", job.Action, "source", job.SourceKey, "error", err)
		return
	}
	c.logger.Info("job processed", "job_id", job.ID, "action", job.Action)
}
