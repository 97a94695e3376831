package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// WebhookPath is where Telegram posts updates in webhook mode
const WebhookPath = "/telegram-webhook"

// StartWebhook points Telegram at baseURL + WebhookPath. Updates then arrive
// through ServeHTTP.
func (b *Bot) StartWebhook(baseURL string) error {
	b.logger.Info("Setting up webhook", zap.String("webhook_url", baseURL))

	webhookConfig, err := tgbotapi.NewWebhook(baseURL + WebhookPath)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	webhookConfig.MaxConnections = 40

	if _, err := b.api.Request(webhookConfig); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", baseURL))
		return err
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		b.logger.Info("Webhook set successfully",
			zap.String("url", info.URL),
			zap.Int("pending_updates", info.PendingUpdateCount),
		)
	}
	return nil
}

// ServeHTTP accepts one update from Telegram. The update is handled in the
// background so Telegram gets its 200 right away.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("Error decoding webhook update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.HandleUpdate(ctx, update)
	}()

	w.WriteHeader(http.StatusOK)
}

// Wait blocks until every webhook update accepted so far has been handled
// or ctx is done
func (b *Bot) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook updates still pending: %w", ctx.Err())
	}
}
