package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"libmanager/internal/models"
)

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Command {
	case "find":
		b.handleFindConversation(ctx, message, state)
	case "stats":
		b.handleStatsConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == -1 {
		b.clearState(message.From.ID)
	}
}

// handleFindConversation searches available books for the typed query
func (b *Bot) handleFindConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	query := strings.TrimSpace(message.Text)
	if query == "" {
		b.reply(message.Chat.ID, "Please type part of a title or an author name:")
		return
	}

	books, err := b.db.SearchAvailableBooks(ctx, query, models.Page{Size: listLimit})
	state.Step = -1
	if err != nil {
		b.logger.Error("Failed to search books", zap.Error(err), zap.String("query", query))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(books) == 0 {
		b.reply(message.Chat.ID, fmt.Sprintf("No available books match \"%s\".", query))
		return
	}

	b.send(outgoing{
		ChatID: message.Chat.ID,
		Text:   fmt.Sprintf("🔎 %d available book(s) match \"%s\":", len(books), query),
		Markup: bookKeyboard(books),
	})
}

// handleStatsConversation handles the typed month or year of /stats
func (b *Bot) handleStatsConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	if state.Step != 1 {
		return
	}

	if _, ok := state.Data["awaiting_month"]; ok {
		date, err := time.Parse("2006-01", strings.TrimSpace(message.Text))
		if err != nil {
			b.reply(message.Chat.ID, "❌ Invalid month format. Please use YYYY-MM\n\nExample: 2024-11")
			return
		}

		startDate := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
		endDate := startDate.AddDate(0, 1, 0).Add(-time.Second)

		delete(state.Data, "awaiting_month")
		b.finishStats(ctx, message.Chat.ID, state, startDate, endDate, date.Format("January 2006"))
		return
	}

	if _, ok := state.Data["awaiting_year"]; ok {
		year, err := strconv.Atoi(strings.TrimSpace(message.Text))
		if err != nil || year < 1900 || year > 2100 {
			b.reply(message.Chat.ID, "❌ Invalid year. Please enter a valid year\n\nExample: 2024")
			return
		}

		startDate := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		endDate := time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)

		delete(state.Data, "awaiting_year")
		b.finishStats(ctx, message.Chat.ID, state, startDate, endDate, fmt.Sprintf("Year %d", year))
	}
}

func (b *Bot) finishStats(ctx context.Context, chatID int64, state *ConversationState, startDate, endDate time.Time, label string) {
	b.sendStatsReport(ctx, chatID, startDate, endDate, label)
	state.Step = -1
}
