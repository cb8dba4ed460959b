package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

import (
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

import (
	"github.com/nanjiek/relay-sync/internal/metrics"
	"github.com/nanjiek/relay-sync/internal/types"
)

// OfflineMessage is the fixed human-readable payload text.
const OfflineMessage = "The relay appears to be unreachable. Requests will bypass it until it comes back."

const defaultRetryDelay = 500 * time.Millisecond

// Channel delivers payloads to consumers. A send error includes the
// nobody-listening case, which is an expected transient condition (page not
// yet loaded), not an escalatable failure.
type Channel interface {
	SendNotification(ctx context.Context, target string, payload []byte) error
	EnumerateTargets(ctx context.Context, pattern string) ([]string, error)
}

// Dispatcher sends the edge-triggered offline warning. Targeted delivery
// retries exactly once after a fixed short delay, then gives up silently;
// broadcast delivery is best-effort per target with no retry.
type Dispatcher struct {
	ch         Channel
	clock      clock.Clock
	retryDelay time.Duration
	log        *slog.Logger
}

type Option func(*Dispatcher)

func WithRetryDelay(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.retryDelay = d }
}

func NewDispatcher(ch Channel, clk clock.Clock, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ch:         ch,
		clock:      clk,
		retryDelay: defaultRetryDelay,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyOffline issues the send and returns immediately; delivery (and the
// one retry) runs detached so a slow channel never stalls a reconcile pass.
// An empty target broadcasts to every currently-subscribed consumer.
func (d *Dispatcher) NotifyOffline(ctx context.Context, target string) {
	payload, err := json.Marshal(types.NotificationEvent{
		EventID: uuid.NewString(),
		Offline: true,
		Message: OfflineMessage,
	})
	if err != nil {
		d.log.Error("marshal notification failed", "err", err)
		return
	}

	bg := context.WithoutCancel(ctx)
	if target != "" {
		go d.deliver(bg, target, payload)
		return
	}
	go d.broadcast(bg, payload)
}

func (d *Dispatcher) deliver(ctx context.Context, target string, payload []byte) {
	if err := d.ch.SendNotification(ctx, target, payload); err == nil {
		metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
		return
	}

	metrics.NotificationsTotal.WithLabelValues("retried").Inc()
	timer := d.clock.Timer(d.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := d.ch.SendNotification(ctx, target, payload); err != nil {
		// 静默丢弃：接收方尚未加载属预期情况
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.log.Debug("notification dropped after retry", "target", target, "err", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
}

func (d *Dispatcher) broadcast(ctx context.Context, payload []byte) {
	targets, err := d.ch.EnumerateTargets(ctx, "*")
	if err != nil {
		d.log.Warn("enumerate notification targets failed", "err", err)
		return
	}
	for _, target := range targets {
		if err := d.ch.SendNotification(ctx, target, payload); err != nil {
			metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
			d.log.Debug("broadcast delivery failed", "target", target, "err", err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
	}
}
