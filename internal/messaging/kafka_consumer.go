package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/metrics"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
)

// Feed message statuses, used as metric labels
const (
	statusProcessed = "processed"
	statusDuplicate = "duplicate"
	statusRejected  = "rejected"
	statusFailed    = "failed"
)

// errRejected marks a message that can never be processed and is committed anyway
var errRejected = errors.New("message rejected")

// KafkaConsumer consumes the outcome feed: event results, closing lines and
// settlement commands
type KafkaConsumer struct {
	reader     *kafka.Reader
	recorder   service.ResultRecorder
	settler    service.Settler
	metrics    *metrics.Metrics
	maxRetries int
	retryDelay time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger
}

// KafkaConsumerConfig holds Kafka consumer configuration
type KafkaConsumerConfig struct {
	Brokers    []string      // e.g., ["localhost:9092"]
	Topic      string        // e.g., "settlement_feed"
	GroupID    string        // e.g., "bankroll-ledger"
	MaxRetries int           // contention retries for settle commands
	RetryDelay time.Duration // wait between contention retries, and first redelivery backoff
	MaxBackoff time.Duration // cap on the backoff between attempts at a failing message
}

// NewKafkaConsumer creates a new Kafka consumer. m may be nil.
func NewKafkaConsumer(
	config KafkaConsumerConfig,
	recorder service.ResultRecorder,
	settler service.Settler,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})

	retryDelay := config.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff < retryDelay {
		maxBackoff = 30 * time.Second
	}

	return &KafkaConsumer{
		reader:     reader,
		recorder:   recorder,
		settler:    settler,
		metrics:    m,
		maxRetries: config.MaxRetries,
		retryDelay: retryDelay,
		maxBackoff: maxBackoff,
		logger:     logger.With().Str("component", "kafka_consumer").Logger(),
	}
}

// Start begins consuming messages from Kafka
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group_id", c.reader.Config().GroupID).
		Msg("started consuming from Kafka")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("stopping Kafka consumer")
			return c.reader.Close()

		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				c.logger.Error().Err(err).Msg("failed to fetch message")
				continue
			}

			if err := c.handle(ctx, msg); err != nil {
				if !errors.Is(err, errRejected) {
					// ctx ended mid-retry; the offset stays uncommitted
					continue
				}
				c.logger.Warn().
					Err(err).
					Int64("offset", msg.Offset).
					Str("key", string(msg.Key)).
					Msg("dropping unprocessable message")
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error().Err(err).Msg("failed to commit message")
			}
		}
	}
}

// handle processes msg until it succeeds or is rejected. Transient failures
// are retried in place with exponential backoff: the reader has already moved
// past msg, so committing any later offset would lose it. It returns the ctx
// error if ctx ends first.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	delay := c.retryDelay
	for attempt := 1; ; attempt++ {
		err := c.processMessage(ctx, msg)
		if err == nil || errors.Is(err, errRejected) {
			return err
		}

		c.logger.Error().
			Err(err).
			Int64("offset", msg.Offset).
			Str("key", string(msg.Key)).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("failed to process message, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxBackoff)
	}
}

// processMessage handles a single feed message. Errors wrapping errRejected
// are permanent; any other error is transient.
func (c *KafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var feedMsg models.KafkaFeedMessage
	if err := json.Unmarshal(msg.Value, &feedMsg); err != nil {
		c.metrics.FeedMessage("unknown", statusRejected)
		return fmt.Errorf("%w: failed to unmarshal message: %v", errRejected, err)
	}

	c.logger.Debug().
		Str("type", feedMsg.Type).
		Str("message_id", feedMsg.MessageID).
		Msg("processing feed message")

	var err error
	switch feedMsg.Type {
	case models.FeedTypeEventResult:
		if feedMsg.EventResult == nil {
			err = fmt.Errorf("%w: event_result payload missing", models.ErrInvalidRequest)
			break
		}
		err = c.recorder.RecordEventResult(ctx, feedMsg.EventResult)
	case models.FeedTypeClosingLine:
		if feedMsg.ClosingLine == nil {
			err = fmt.Errorf("%w: closing_line payload missing", models.ErrInvalidRequest)
			break
		}
		err = c.recorder.RecordClosingLine(ctx, feedMsg.ClosingLine)
	case models.FeedTypeSettle:
		if feedMsg.Settle == nil {
			err = fmt.Errorf("%w: settle payload missing", models.ErrInvalidRequest)
			break
		}
		err = c.settle(ctx, feedMsg.Settle)
	default:
		err = fmt.Errorf("%w: unknown message type %q", models.ErrInvalidRequest, feedMsg.Type)
	}

	status := classify(err)
	c.metrics.FeedMessage(feedMsg.Type, status)

	switch status {
	case statusProcessed:
		c.logger.Info().
			Str("type", feedMsg.Type).
			Str("message_id", feedMsg.MessageID).
			Msg("processed feed message")
		return nil
	case statusDuplicate:
		c.logger.Debug().Str("message_id", feedMsg.MessageID).Msg("bet already settled, skipping redelivery")
		return nil
	case statusRejected:
		return fmt.Errorf("%w: %v", errRejected, err)
	default:
		return err
	}
}

// settle applies a settlement command, retrying contention a bounded number of times
func (c *KafkaConsumer) settle(ctx context.Context, cmd *models.SettleCommand) error {
	req := models.SettlementRequest{
		BetID:        cmd.BetID,
		Outcome:      cmd.Outcome,
		ActualReturn: cmd.ActualReturn,
		ClosingPrice: cmd.ClosingPrice,
		Source:       models.SourceFeed,
	}

	for attempt := 0; ; attempt++ {
		_, err := c.settler.Settle(ctx, req)
		if !models.IsRetryable(err) || attempt >= c.maxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

// classify maps a processing error onto a feed status
func classify(err error) string {
	switch {
	case err == nil:
		return statusProcessed
	case errors.Is(err, models.ErrAlreadySettled):
		return statusDuplicate
	case errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, models.ErrInconsistentOutcome),
		errors.Is(err, models.ErrInvalidBet),
		errors.Is(err, models.ErrNotFound):
		return statusRejected
	default:
		return statusFailed
	}
}

// Close closes the Kafka reader
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
