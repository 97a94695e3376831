package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"libmanager/internal/storage"
)

// Options configures the bot
type Options struct {
	Token          string
	AllowedUserIDs []int64
	NotifyChatID   int64
	NotifyThreadID int
}

// NewBot creates a new Telegram bot
func NewBot(opts Options, db storage.Storage, activity storage.ActivityLog, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(opts.Token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	b := newBot(db, activity, opts, logger)
	b.api = api
	b.deliver = b.deliverAPI
	return b, nil
}

func newBot(db storage.Storage, activity storage.ActivityLog, opts Options, logger *zap.Logger) *Bot {
	allowedUsers := make(map[int64]bool)
	for _, id := range opts.AllowedUserIDs {
		allowedUsers[id] = true
	}

	return &Bot{
		db:             db,
		activity:       activity,
		allowedUsers:   allowedUsers,
		states:         make(map[int64]*ConversationState),
		logger:         logger,
		notifyChatID:   opts.NotifyChatID,
		notifyThreadID: opts.NotifyThreadID,
		deliver:        func(outgoing) error { return nil },
	}
}
