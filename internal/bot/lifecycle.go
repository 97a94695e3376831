package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Start runs the bot in polling mode until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started successfully. Waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes a single update from allowed users
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Channel posts carry no sender
	if update.Message != nil && update.Message.From != nil {
		userID := update.Message.From.ID
		if !b.allowedUsers[userID] {
			b.logger.Warn("Unauthorized access attempt",
				zap.Int64("user_id", userID),
				zap.String("username", update.Message.From.UserName),
				zap.String("text", update.Message.Text),
			)
			b.reply(update.Message.Chat.ID, "Sorry, you are not authorized to use this bot.")
			return
		}
		b.handleMessage(ctx, update.Message)
	}

	// Inline keyboard button clicks
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		userID := update.CallbackQuery.From.ID
		if !b.allowedUsers[userID] {
			b.logger.Warn("Unauthorized callback query attempt",
				zap.Int64("user_id", userID),
				zap.String("callback_data", update.CallbackQuery.Data),
			)
			return
		}
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}
