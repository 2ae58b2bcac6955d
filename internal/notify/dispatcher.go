package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"poscal/internal/ids"
	"poscal/internal/models"
	"poscal/internal/observability"
	"poscal/internal/ratelimit"
)

var ErrRateLimited = errors.New("notification rate limited")

// Outbox is the slice of the repository the dispatcher writes to.
type Outbox interface {
	InsertNotificationEvent(ctx context.Context, item *models.NotificationEvent) error
	UpdateNotificationEvent(ctx context.Context, id string, fields map[string]any) error
}

type Dispatcher struct {
	Queue   *QueueEmitter
	Outbox  Outbox
	Sinks   []Sink
	Limiter *ratelimit.Limiter
	// Enabled gates delivery; events are still recorded when it reports false.
	Enabled func(context.Context) bool

	SendTimeout time.Duration
	Attempts    int
	Backoff     time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.Queue == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.Queue.Events():
			if err := d.Deliver(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
				d.logWarn("notification delivery failed", err,
					zap.String("type", ev.Type),
					zap.String("signal_id", ev.SignalID),
				)
			}
		}
	}
}

// Deliver records ev in the outbox and hands it to every sink.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	now := d.now()
	if ev.At.IsZero() {
		ev.At = now
	}
	payload, _ := json.Marshal(ev)
	row := &models.NotificationEvent{
		ID:         ids.ULID(now),
		Type:       ev.Type,
		Instrument: ev.Instrument,
		SignalID:   ev.SignalID,
		Title:      ev.Title(),
		Body:       ev.Body(),
		Payload:    datatypes.JSON(payload),
		Status:     models.NotificationQueued,
		CreatedAt:  now,
	}
	if d.Outbox != nil {
		if err := d.Outbox.InsertNotificationEvent(ctx, row); err != nil {
			// Delivery still proceeds; the outbox is an audit trail.
			d.logWarn("notification outbox insert failed", err, zap.String("signal_id", ev.SignalID))
			row = nil
		}
	}

	if d.Enabled != nil && !d.Enabled(ctx) {
		d.finish(ctx, row, 0, errors.New("notifications disabled"))
		return nil
	}
	if d.Limiter != nil {
		if dec := d.Limiter.Allow("push_notification|"+ev.Type, now); !dec.Allowed {
			d.Metrics.Limited("push_notification")
			d.finish(ctx, row, 0, ErrRateLimited)
			return ErrRateLimited
		}
	}
	if len(d.Sinks) == 0 {
		d.finish(ctx, row, 0, nil)
		return nil
	}

	attempts := 0
	var errs []error
	for _, sink := range d.Sinks {
		n, err := d.sendWithRetry(ctx, sink, ev)
		attempts += n
		status := "sent"
		if err != nil {
			status = "failed"
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
		d.Metrics.NotificationDelivered(sink.Name(), status)
	}
	err := errors.Join(errs...)
	d.finish(ctx, row, attempts, err)
	return err
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, sink Sink, ev Event) (int, error) {
	attempts := d.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := d.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var err error
	for i := 1; i <= attempts; i++ {
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		err = sink.Send(sendCtx, ev)
		cancel()
		if err == nil {
			return i, nil
		}
		if i == attempts {
			break
		}
		timer := time.NewTimer(time.Duration(i) * backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return i, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts, err
}

func (d *Dispatcher) finish(ctx context.Context, row *models.NotificationEvent, attempts int, err error) {
	if d.Outbox == nil || row == nil {
		return
	}
	fields := map[string]any{"attempts": attempts}
	if err != nil {
		fields["status"] = models.NotificationFailed
		fields["last_error"] = truncate(err.Error(), 1000)
	} else {
		fields["status"] = models.NotificationSent
		fields["sent_at"] = d.now()
	}
	if uerr := d.Outbox.UpdateNotificationEvent(ctx, row.ID, fields); uerr != nil {
		d.logWarn("notification outbox update failed", uerr, zap.String("id", row.ID))
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logWarn(msg string, err error, fields ...zap.Field) {
	if d == nil || d.Logger == nil {
		return
	}
	d.Logger.Warn(msg, append(fields, zap.Error(err))...)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
