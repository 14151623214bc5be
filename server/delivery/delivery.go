// Package delivery is the ingestion path shared by the LMTP server and the
// HTTP API: it parses a raw message, serializes updates per feed and hands
// the message to the feed engine.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/keylock"
	"github.com/migadu/mailfeed/pkg/metrics"
	"github.com/migadu/mailfeed/server/idgen"
)

// Processor applies one message to its feed.
type Processor interface {
	Process(ctx context.Context, email *feed.Email) (*feed.Result, error)
}

// Deliverer runs deliveries. Messages for the same feed are processed one at
// a time because a feed update is a read-modify-write of a single object.
type Deliverer struct {
	processor Processor
	locks     *keylock.Table
}

func NewDeliverer(processor Processor) *Deliverer {
	return &Deliverer{
		processor: processor,
		locks:     keylock.New(),
	}
}

// IsRejection reports whether err is caused by the message itself. Such
// messages will never succeed and must not be retried.
func IsRejection(err error) bool {
	return errors.Is(err, consts.ErrMissingSender) ||
		errors.Is(err, consts.ErrMissingContent) ||
		errors.Is(err, consts.ErrMalformedMessage)
}

// WithDeliveryID returns ctx carrying a fresh delivery id unless it already
// has one, together with the id.
func WithDeliveryID(ctx context.Context) (context.Context, string) {
	if id, ok := ctx.Value(consts.DeliveryIDKey).(string); ok && id != "" {
		return ctx, id
	}
	id := idgen.New()
	return context.WithValue(ctx, consts.DeliveryIDKey, id), id
}

// Deliver parses raw and applies it to the sender's feed. source labels
// metrics and logs ("lmtp", "http").
func (d *Deliverer) Deliver(ctx context.Context, source string, raw []byte) (*feed.Result, error) {
	start := time.Now()
	ctx, _ = WithDeliveryID(ctx)
	metrics.MessageSizeBytes.Observe(float64(len(raw)))

	res, err := d.deliver(ctx, raw)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && res.Created:
		metrics.MessagesProcessed.WithLabelValues(source, "created").Inc()
	case err == nil:
		metrics.MessagesProcessed.WithLabelValues(source, "updated").Inc()
	case IsRejection(err):
		metrics.MessagesProcessed.WithLabelValues(source, "rejected").Inc()
		logger.InfoContext(ctx, "Delivery: Rejected message", "source", source, "error", err)
	default:
		metrics.MessagesProcessed.WithLabelValues(source, "failed").Inc()
		logger.ErrorContext(ctx, "Delivery: Failed to update feed", "source", source, "error", err)
	}
	return res, err
}

func (d *Deliverer) deliver(ctx context.Context, raw []byte) (*feed.Result, error) {
	email, err := ParseEmail(raw)
	if err != nil {
		return nil, err
	}

	identity, err := feed.NewSenderIdentity(email.From)
	if err != nil {
		return nil, err
	}
	key := feed.FeedKey(identity)

	unlock, err := d.locks.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("waiting for feed %s: %w", key, err)
	}
	defer unlock()

	logger.DebugContext(ctx, "Delivery: Processing message", "from", identity.Address, "feed", key, "message_id", email.MessageID)
	return d.processor.Process(ctx, email)
}
