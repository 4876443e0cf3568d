package outbox

import (
	"context"
	"time"

	"pushrelay/internal/relay"
	logx "pushrelay/pkg/logx"
)

// dbTimeout bounds each bookkeeping query inside an activation.
const dbTimeout = 5 * time.Second

// Delegate drains up to batch pending items per activation.
//
// Any database error or failed push returns false, which restarts the
// relay pipeline.
func Delegate(store *Store, batch int) relay.Delegate {
	return func(rc *relay.Context) bool {
		log := rc.Logger().With(logx.String("comp", "outbox"))

		ctx, cancel := context.WithTimeout(rc.Context(), dbTimeout)
		items, err := store.Pending(ctx, batch)
		cancel()
		if err != nil {
			log.Error("outbox read failed", logx.Err(err))
			return false
		}
		if len(items) == 0 {
			log.Debug("outbox empty")
			return true
		}

		sent := 0
		for _, it := range items {
			if !rc.Push(it.DeviceToken, it.Message) {
				rc.Log("Failed attempt to send a message to device " + it.DeviceToken)
				ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
				if err := store.MarkFailed(ctx, it.ID, "push failed"); err != nil {
					log.Warn("outbox mark failed", logx.Int64("id", it.ID), logx.Err(err))
				}
				cancel()
				return false
			}
			ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
			err := store.MarkSent(ctx, it.ID)
			cancel()
			if err != nil {
				// The frame left already; a retry would duplicate it.
				log.Error("outbox mark sent failed", logx.Int64("id", it.ID), logx.Err(err))
				return false
			}
			sent++
		}
		log.Info("outbox batch sent", logx.Int("sent", sent))
		return true
	}
}
