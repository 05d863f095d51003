package notification

import (
	"context"

	"go.uber.org/zap"

	"attendance-portal/internal/metrics"
	"attendance-portal/internal/queue"
)

// SyncCounters consumes inbox events and recounts the affected user's unread
// notifications into the counter cache. It returns when ctx is cancelled or
// the queue closes.
func SyncCounters(ctx context.Context, q queue.Queue, st Store, c Counter, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if err := syncOne(ctx, msg, st, c); err != nil {
			metrics.NotificationEvents.WithLabelValues(msg.Type, "error").Inc()
			log.Error("sync unread count", zap.String("type", msg.Type), zap.String("user", msg.UserID), zap.Error(err))
			continue
		}
		metrics.NotificationEvents.WithLabelValues(msg.Type, "ok").Inc()
	}
	return ctx.Err()
}

func syncOne(ctx context.Context, msg queue.Message, st Store, c Counter) error {
	if msg.UserID == "" {
		return nil
	}
	switch msg.Type {
	case queue.TypeNotificationsPurged:
		return c.Set(ctx, msg.UserID, 0)
	case queue.TypeNotificationCreated, queue.TypeNotificationChanged:
		n, err := st.CountUnread(ctx, msg.UserID)
		if err != nil {
			return err
		}
		return c.Set(ctx, msg.UserID, n)
	default:
		return nil
	}
}
