package push

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/voxnote/internal/store"
)

// Relay forwards background notices to every local web-push subscription.
type Relay struct {
	service *Service
	subs    *store.PushStore
	logger  *slog.Logger
}

func NewRelay(svc *Service, subs *store.PushStore, logger *slog.Logger) *Relay {
	return &Relay{
		service: svc,
		subs:    subs,
		logger:  logger.With("component", "push"),
	}
}

// Broadcast sends payload to all subscriptions and returns how many
// deliveries succeeded. Expired subscriptions are removed.
func (r *Relay) Broadcast(ctx context.Context, payload Payload) (int, error) {
	subs, err := r.subs.List()
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range subs {
		if err := r.service.Send(ctx, &sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				r.logger.Info("removing expired subscription", "device", sub.DeviceName)
				if err := r.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
					r.logger.Error("delete expired subscription", "error", err)
				}
				continue
			}
			r.logger.Warn("push delivery failed", "device", sub.DeviceName, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}
