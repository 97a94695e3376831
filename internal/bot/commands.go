package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"libmanager/internal/models"
)

// listLimit caps how many books a single bot reply shows
const listLimit = 20

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Welcome to the Library Manager librarian bot! 📚

Available commands:
/available - Books on the shelf
/find - Search available books by title or author
/loans - Books currently on loan
/last - Show last 10 lending events
/stats - Most borrowed books for a period`

	b.reply(message.Chat.ID, text)
}

// handleAvailable lists available books as buttons that open the book detail
func (b *Bot) handleAvailable(ctx context.Context, message *tgbotapi.Message) {
	books, err := b.db.ListAvailableBooks(ctx, models.Page{Size: listLimit})
	if err != nil {
		b.logger.Error("Failed to list available books", zap.Error(err))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(books) == 0 {
		b.reply(message.Chat.ID, "No books are available right now.")
		return
	}

	b.send(outgoing{
		ChatID: message.Chat.ID,
		Text:   "📚 Available books:",
		Markup: bookKeyboard(books),
	})
}

// handleFindStart initiates the search conversation
func (b *Bot) handleFindStart(message *tgbotapi.Message) {
	b.setState(message.From.ID, &ConversationState{
		Command: "find",
		Step:    1,
		Data:    make(map[string]interface{}),
	})

	b.reply(message.Chat.ID, "🔎 Enter a title or author:")
}

// handleLoans shows every borrowed book with its borrower
func (b *Bot) handleLoans(ctx context.Context, message *tgbotapi.Message) {
	loans, err := b.db.ListLoans(ctx)
	if err != nil {
		b.logger.Error("Failed to list loans", zap.Error(err))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(loans) == 0 {
		b.reply(message.Chat.ID, "No books are on loan.")
		return
	}

	var text strings.Builder
	text.WriteString("📕 Books on loan:\n\n")
	for i, loan := range loans {
		fmt.Fprintf(&text, "%d. '%s' by %s (%s)\n",
			i+1,
			loan.Book.Title,
			loan.Book.Author,
			loan.Borrower.Email)
	}

	b.reply(message.Chat.ID, text.String())
}

// handleLast shows the last 10 lending events
func (b *Bot) handleLast(ctx context.Context, message *tgbotapi.Message) {
	events, err := b.activity.GetLastEvents(ctx, 10)
	if err != nil {
		b.logger.Error("Failed to get last events", zap.Error(err))
		b.reply(message.Chat.ID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(events) == 0 {
		b.reply(message.Chat.ID, "No lending events recorded yet.")
		return
	}

	var text strings.Builder
	text.WriteString("Last lending events:\n\n")
	for i, event := range events {
		fmt.Fprintf(&text, "%d. %s %s %s '%s' (%s)\n",
			i+1,
			event.OccurredAt.Format("2006-01-02"),
			actionIcon(event.Action),
			event.Action,
			event.BookTitle,
			event.PatronEmail)
	}

	b.reply(message.Chat.ID, text.String())
}

// handleStatsStart initiates the statistics conversation
func (b *Bot) handleStatsStart(message *tgbotapi.Message) {
	b.setState(message.From.ID, &ConversationState{
		Command: "stats",
		Step:    1,
		Data:    make(map[string]interface{}),
	})

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Specific month", "stats_period:month"),
			tgbotapi.NewInlineKeyboardButtonData("📅 Calendar year", "stats_period:year"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏮ Last 3 months", "stats_period:last3"),
			tgbotapi.NewInlineKeyboardButtonData("⏮ Last 12 months", "stats_period:last12"),
		),
	)
	b.send(outgoing{
		ChatID: message.Chat.ID,
		Text:   "📊 Select time period for statistics:",
		Markup: &keyboard,
	})
}

// bookKeyboard lays books out two buttons per row
func bookKeyboard(books []models.Book) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var currentRow []tgbotapi.InlineKeyboardButton
	for i, book := range books {
		currentRow = append(currentRow, tgbotapi.NewInlineKeyboardButtonData(
			book.Title,
			"book:"+book.ID.String(),
		))

		if len(currentRow) == 2 || i == len(books)-1 {
			rows = append(rows, currentRow)
			currentRow = nil
		}
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}
