package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"libmanager/internal/storage"
)

// handleBookCallback shows the detail of the selected book
func (b *Bot) handleBookCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID

	id, err := uuid.Parse(strings.TrimPrefix(query.Data, "book:"))
	if err != nil {
		b.reply(chatID, "Error: Invalid book selection")
		return
	}

	book, err := b.db.GetBook(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, "This book is no longer in the catalog.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to get book", zap.Error(err), zap.String("book_id", id.String()))
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "📚 %s\n✍️ %s\n", book.Title, book.Author)
	if book.PublicationYear != 0 {
		fmt.Fprintf(&text, "📅 %d\n", book.PublicationYear)
	}
	if book.ISBN != "" {
		fmt.Fprintf(&text, "🔖 ISBN %s\n", book.ISBN)
	}

	if book.Available {
		text.WriteString("\n✅ On the shelf")
	} else {
		borrower := "unknown patron"
		if book.BorrowerID != nil {
			if user, err := b.db.GetUserByID(ctx, *book.BorrowerID); err == nil {
				borrower = user.Email
			}
		}
		fmt.Fprintf(&text, "\n📕 On loan to %s", borrower)
	}

	b.reply(chatID, text.String())
}

// handleStatsPeriodCallback processes time period selection for statistics
func (b *Bot) handleStatsPeriodCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	chatID := query.Message.Chat.ID
	now := time.Now().UTC()

	var months int
	switch strings.TrimPrefix(query.Data, "stats_period:") {
	case "month":
		state.Data["awaiting_month"] = true
		b.reply(chatID, "📝 Please enter the month in format YYYY-MM\n\nExample: 2024-11")
		return
	case "year":
		state.Data["awaiting_year"] = true
		b.reply(chatID, "📝 Please enter the year\n\nExample: 2024")
		return
	case "last3":
		months = 3
	case "last12":
		months = 12
	default:
		return
	}

	b.finishStats(ctx, chatID, state, now.AddDate(0, -months, 0), now, fmt.Sprintf("Last %d months", months))
}

// sendStatsReport sends the top 10 borrowed books for a period
func (b *Bot) sendStatsReport(ctx context.Context, chatID int64, startDate, endDate time.Time, periodLabel string) {
	stats, err := b.activity.GetTopBooks(ctx, 10, startDate, endDate)
	if err != nil {
		b.logger.Error("Failed to get top books for stats report",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Time("start_date", startDate),
			zap.Time("end_date", endDate),
		)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	if len(stats) == 0 {
		b.reply(chatID, "No loans found for the selected period.")
		return
	}

	b.logger.Info("Generated stats report",
		zap.Int("book_count", len(stats)),
		zap.Int64("chat_id", chatID),
	)

	var text strings.Builder
	text.WriteString("📊 Lending Statistics\n\n")
	fmt.Fprintf(&text, "📅 Period: %s\n", periodLabel)
	fmt.Fprintf(&text, "   %s - %s\n\n", startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
	text.WriteString("📚 Top 10 Books:\n\n")
	for i, stat := range stats {
		loans := "loans"
		if stat.BorrowCount == 1 {
			loans = "loan"
		}
		fmt.Fprintf(&text, "%d. %s by %s - %d %s\n", i+1, stat.BookTitle, stat.BookAuthor, stat.BorrowCount, loans)
	}

	b.reply(chatID, text.String())
}
