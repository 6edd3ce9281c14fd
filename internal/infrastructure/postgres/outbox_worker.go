package postgres

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/flowgrow/promo-service/internal/pkg/logger"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	outboxClaimLimit  = 20
	outboxMaxAttempts = 12

	// How long a claimed row stays invisible to other workers while its
	// publish is in flight. Must exceed confirmTimeout.
	outboxLease    = 15 * time.Second
	confirmTimeout = 600 * time.Millisecond
)

// outboxEvent is one claimed row of the transactional outbox. The
// business write (user registered, account linked, order matched) and
// the event row commit together; this worker only moves the row to the
// broker afterwards.
type outboxEvent struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	TraceID    string
	RoutingKey string
	Payload    []byte
	Attempt    int
}

// retryDelay is exponential in the attempt number, clamped to
// [5s, 30m], with +/-20% jitter so a broker outage does not produce
// synchronized retry storms.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	sec := math.Min(math.Max(math.Pow(2, float64(attempt)), 5), 1800)
	d := time.Duration(sec) * time.Second
	return d + time.Duration(rand.Int63n(int64(d/5))) - d/10
}

// outboxPublisher wraps an amqp channel in confirm mode. Publishes are
// mandatory, so unroutable events surface on the returns channel
// instead of being dropped by the broker.
type outboxPublisher struct {
	ch       *amqp.Channel
	exchange string
	returns  <-chan amqp.Return
}

func newOutboxPublisher(rabbitURL, exchange string) (*amqp.Connection, *outboxPublisher, error) {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("enable confirms: %w", err)
	}

	return conn, &outboxPublisher{
		ch:       ch,
		exchange: exchange,
		returns:  ch.NotifyReturn(make(chan amqp.Return, outboxClaimLimit)),
	}, nil
}

// publish sends one event and waits for the broker's confirm. A
// basic.return for the same message id means the exchange had nowhere
// to route it, which counts as a failure even though the broker acks.
func (p *outboxPublisher) publish(ctx context.Context, ev outboxEvent) error {
	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(waitCtx, p.exchange, ev.RoutingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.MessageID.String(),
		AppId:        "promo-service",
		Headers:      amqp.Table{"trace_id": ev.TraceID},
		Body:         ev.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.RoutingKey, err)
	}

	acked, err := conf.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", ev.RoutingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s (tag %d)", ev.RoutingKey, conf.DeliveryTag)
	}

	// Returns race the confirm; give the channel a moment to deliver one.
	select {
	case ret := <-p.returns:
		if ret.MessageId == ev.MessageID.String() {
			return fmt.Errorf("unroutable %s: %d %s", ev.RoutingKey, ret.ReplyCode, ret.ReplyText)
		}
	case <-time.After(20 * time.Millisecond):
	}
	return nil
}

// StartOutboxWorker drains pending outbox rows to the exchange in the
// background until ctx is canceled.
func (r *Repository) StartOutboxWorker(ctx context.Context, rabbitURL, exchange string) {
	go func() {
		log := logger.Logger.With().Str("component", "outbox_worker").Logger()

		conn, pub, err := newOutboxPublisher(rabbitURL, exchange)
		if err != nil {
			log.Error().Err(err).Msg("outbox publisher unavailable")
			return
		}
		defer conn.Close()

		// next_retry_at gates load, so the tick can stay short.
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				if err := r.drainOutbox(ctx, pub, log); err != nil {
					log.Warn().Err(err).Msg("outbox drain failed")
				}
			}
		}
	}()
}

// claimOutboxEvents leases a batch of due rows in a single atomic
// statement: concurrent workers skip each other's locked rows, and the
// pushed-out next_retry_at keeps claimed rows invisible until either
// the publish settles them or the lease expires.
func (r *Repository) claimOutboxEvents(ctx context.Context) ([]outboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE outbox
		SET next_retry_at = NOW() + $2::interval
		WHERE id IN (
			SELECT id
			FROM outbox
			WHERE status = 'pending'
			  AND next_retry_at <= NOW()
			ORDER BY next_retry_at ASC, occurred_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, message_id, trace_id, routing_key, payload, attempt
	`, outboxClaimLimit, fmt.Sprintf("%f seconds", outboxLease.Seconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outboxEvent
	for rows.Next() {
		var ev outboxEvent
		if err := rows.Scan(&ev.ID, &ev.MessageID, &ev.TraceID, &ev.RoutingKey, &ev.Payload, &ev.Attempt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *Repository) drainOutbox(ctx context.Context, pub *outboxPublisher, log zerolog.Logger) error {
	events, err := r.claimOutboxEvents(ctx)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := pub.publish(ctx, ev); err != nil {
			r.settleOutboxFailure(ctx, ev, err, log)
			continue
		}

		_, _ = r.pool.Exec(ctx, `
			UPDATE outbox
			SET status = 'sent',
			    last_error = NULL
			WHERE id = $1
		`, ev.ID)

		log.Info().
			Str("outbox_id", ev.ID.String()).
			Str("routing_key", ev.RoutingKey).
			Str("trace_id", ev.TraceID).
			Msg("event published")
	}
	return nil
}

// settleOutboxFailure schedules a retry, or parks the row as dead once
// the attempt budget is spent.
func (r *Repository) settleOutboxFailure(ctx context.Context, ev outboxEvent, cause error, log zerolog.Logger) {
	attempt := ev.Attempt + 1

	if attempt >= outboxMaxAttempts {
		_, _ = r.pool.Exec(ctx, `
			UPDATE outbox
			SET status = 'dead',
			    attempt = $2,
			    last_error = $3
			WHERE id = $1
		`, ev.ID, attempt, cause.Error())

		log.Error().
			Str("outbox_id", ev.ID.String()).
			Str("routing_key", ev.RoutingKey).
			Int("attempt", attempt).
			Err(cause).
			Msg("outbox event dead")
		return
	}

	delay := retryDelay(attempt)
	_, _ = r.pool.Exec(ctx, `
		UPDATE outbox
		SET attempt = $2,
		    next_retry_at = NOW() + $3::interval,
		    last_error = $4
		WHERE id = $1
	`, ev.ID, attempt, fmt.Sprintf("%f seconds", delay.Seconds()), cause.Error())

	log.Warn().
		Str("outbox_id", ev.ID.String()).
		Str("routing_key", ev.RoutingKey).
		Int("attempt", attempt).
		Dur("retry_in", delay).
		Err(cause).
		Msg("outbox publish failed, retry scheduled")
}
