package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID

	if state := b.state(userID); state != nil {
		switch {
		case state.Step == -1:
			// Finished by a callback but not cleaned up yet
			b.clearState(userID)
		case message.IsCommand():
			// Any command cancels an ongoing conversation
			b.clearState(userID)
		default:
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "available":
		b.handleAvailable(ctx, message)
	case "find":
		b.handleFindStart(message)
	case "loans":
		b.handleLoans(ctx, message)
	case "last":
		b.handleLast(ctx, message)
	case "stats":
		b.handleStatsStart(message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	// Answer the callback query to remove loading state
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Warn("Failed to answer callback query", zap.Error(err))
		}
	}

	data := query.Data
	if strings.HasPrefix(data, "book:") {
		b.handleBookCallback(ctx, query)
		return
	}

	userID := query.From.ID
	state := b.state(userID)
	if state == nil {
		return
	}

	if strings.HasPrefix(data, "stats_period:") {
		b.handleStatsPeriodCallback(ctx, query, state)
	}

	if state.Step == -1 {
		b.clearState(userID)
	}
}

func (b *Bot) state(userID int64) *ConversationState {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	return b.states[userID]
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
