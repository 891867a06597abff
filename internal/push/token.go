package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/voxnote/internal/store"
)

// Syncer reports a changed push token to the backend.
type Syncer interface {
	SyncUser(ctx context.Context, userID, pushToken string) error
}

// TokenRefresher handles rotation of the device push token.
type TokenRefresher struct {
	api      Syncer
	settings *store.SettingsStore
	logger   *slog.Logger
}

func NewTokenRefresher(api Syncer, settings *store.SettingsStore, logger *slog.Logger) *TokenRefresher {
	return &TokenRefresher{
		api:      api,
		settings: settings,
		logger:   logger.With("component", "push_token"),
	}
}

// Refresh sends token to the backend when the device is registered and
// persists it. An unchanged token is not re-sent.
func (r *TokenRefresher) Refresh(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("push token is empty")
	}

	current, err := r.settings.Get(store.KeyPushToken)
	if err != nil {
		return err
	}
	userID, err := r.settings.Get(store.KeyUserID)
	if err != nil {
		return err
	}
	if current == token && userID != "" {
		return nil
	}

	if userID == "" {
		r.logger.Info("push token stored, device not registered yet")
		return r.settings.Set(store.KeyPushToken, token)
	}

	// stored only after the backend accepts it so a failed sync is retried
	if err := r.api.SyncUser(ctx, userID, token); err != nil {
		return fmt.Errorf("sync push token: %w", err)
	}
	if err := r.settings.Set(store.KeyPushToken, token); err != nil {
		return err
	}
	r.logger.Info("push token synced", "user_id", userID)
	return nil
}
