package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"libmanager/internal/storage"
)

// Bot represents the librarian Telegram bot
type Bot struct {
	api          *tgbotapi.BotAPI
	db           storage.Storage
	activity     storage.ActivityLog
	allowedUsers map[int64]bool
	states       map[int64]*ConversationState
	statesMu     sync.Mutex
	logger       *zap.Logger

	// Lending notifications go to this chat, optionally into a forum topic
	notifyChatID   int64
	notifyThreadID int

	// deliver sends one outgoing message; replaced in tests
	deliver func(out outgoing) error

	// webhook updates still being handled
	inflight sync.WaitGroup
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}

type outgoing struct {
	ChatID   int64
	ThreadID int
	Text     string
	Markup   *tgbotapi.InlineKeyboardMarkup
}
