package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const attemptHeader = "x-attempt"

// Handler processes one job. A returned error schedules a delayed retry until
// the consumer's retry budget is spent, then the message goes to the DLQ.
type Handler func(ctx context.Context, jobID string) error

// acknowledger settles one delivery; amqp.Delivery satisfies it.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type ConsumerConfig struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	pub   channelPublisher
	queue string
	cfg   ConsumerConfig
	log   *zap.Logger
}

func NewConsumer(url, queue string, cfg ConsumerConfig, log *zap.Logger) (*Consumer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, pub: ch, queue: queue, cfg: cfg, log: log}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run dispatches deliveries to a pool of Concurrency workers until ctx is done
// or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info("worker started", zap.String("queue", c.queue), zap.Int("concurrency", c.cfg.Concurrency))

	jobs := make(chan amqp.Delivery, c.cfg.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d.Body, d.Headers, d, handle)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

// handle runs one delivery and settles it: ack on success, a delayed copy on
// the retry queue while the budget lasts, otherwise nack to the DLQ.
func (c *Consumer) handle(ctx context.Context, workerID int, body []byte, headers amqp.Table, d acknowledger, handle Handler) {
	log := c.log.With(zap.Int("worker", workerID))

	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil || m.JobID == "" {
		log.Warn("bad message", zap.ByteString("body", body), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log = log.With(zap.String("job_id", m.JobID))

	start := time.Now()
	err := handle(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	attempt := attemptOf(headers)
	log.Warn("job failed", zap.Duration("cost", time.Since(start)), zap.Int("attempt", attempt), zap.Error(err))
	if attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
		_ = d.Nack(false, false)
		return
	}
	if err := publish(ctx, c.pub, RetryQueue(c.queue), m.JobID, c.cfg.RetryDelay, attempt+1); err != nil {
		log.Error("schedule retry failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
