package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"libmanager/internal/models"
)

// NotifyLending posts a lending event to the notification chat. It does
// nothing when no chat is configured.
func (b *Bot) NotifyLending(ctx context.Context, event models.LendingEvent) error {
	if b.notifyChatID == 0 {
		return nil
	}
	return b.deliver(outgoing{
		ChatID:   b.notifyChatID,
		ThreadID: b.notifyThreadID,
		Text:     formatEvent(event),
	})
}

func formatEvent(event models.LendingEvent) string {
	title := "📕 Borrowed"
	if event.Action == models.ActionReturn {
		title = "📗 Returned"
	}

	var text strings.Builder
	text.WriteString(title + "\n\n")
	fmt.Fprintf(&text, "📚 '%s' by %s\n", event.BookTitle, event.BookAuthor)
	fmt.Fprintf(&text, "👤 %s\n", event.PatronEmail)
	fmt.Fprintf(&text, "🕒 %s", event.OccurredAt.UTC().Format("2006-01-02 15:04 MST"))
	return text.String()
}

func actionIcon(action models.LendingAction) string {
	if action == models.ActionReturn {
		return "📗"
	}
	return "📕"
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(outgoing{ChatID: chatID, Text: text})
}

// send delivers a reply and logs failures, replies are best effort
func (b *Bot) send(out outgoing) {
	if err := b.deliver(out); err != nil {
		b.logger.Error("Failed to send message",
			zap.Int64("chat_id", out.ChatID),
			zap.Error(err))
	}
}

// deliverAPI calls sendMessage directly so that forum topics
// (message_thread_id) can be addressed.
func (b *Bot) deliverAPI(out outgoing) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", out.ChatID)
	params.AddNonZero("message_thread_id", out.ThreadID)
	params["text"] = out.Text
	if out.Markup != nil {
		if err := params.AddInterface("reply_markup", out.Markup); err != nil {
			return fmt.Errorf("failed to encode reply markup: %w", err)
		}
	}

	if _, err := b.api.MakeRequest("sendMessage", params); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
