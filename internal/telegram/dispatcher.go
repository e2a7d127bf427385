package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/gitlabbot/internal/metrics"
	"golang.org/x/time/rate"
)

// MaxMessageLength is the largest text Telegram accepts in one message,
// counted in characters.
const MaxMessageLength = 4096

// API is the subset of *tgbotapi.BotAPI used by this package.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Control is the inline URL button attached to a notification.
type Control struct {
	Text string
	URL  string
}

// Handle identifies a sent message so it can be edited later.
type Handle struct {
	ChatID    int64
	MessageID int
}

// Dispatcher sends notifications to Telegram chats.
type Dispatcher struct {
	api    API
	pace   time.Duration
	global *rate.Limiter
}

// NewDispatcher creates a dispatcher. pace is the pause between chunks of
// one long message. global, when not nil, throttles every outbound call.
func NewDispatcher(api API, pace time.Duration, global *rate.Limiter) *Dispatcher {
	return &Dispatcher{
		api:    api,
		pace:   pace,
		global: global,
	}
}

// Send delivers text to chatID in HTML parse mode, splitting it into chunks
// of at most MaxMessageLength characters. The control, if any, is attached
// to the last chunk, whose handle is returned.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string, control *Control) (Handle, error) {
	chunks := SplitMessage(text, MaxMessageLength)
	pacer := rate.NewLimiter(rate.Every(d.pace), 1)

	var sent tgbotapi.Message
	for i, chunk := range chunks {
		if err := pacer.Wait(ctx); err != nil {
			return Handle{}, err
		}
		if err := d.wait(ctx); err != nil {
			return Handle{}, err
		}

		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if control != nil && i == len(chunks)-1 {
			msg.ReplyMarkup = keyboard(*control)
		}

		var err error
		sent, err = d.api.Send(msg)
		if err != nil {
			return Handle{}, fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		metrics.Chunk()
	}

	return Handle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// EditControl replaces the inline keyboard of a sent message.
func (d *Dispatcher) EditControl(ctx context.Context, h Handle, control Control) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(h.ChatID, h.MessageID, keyboard(control))
	if _, err := d.api.Request(edit); err != nil {
		return fmt.Errorf("failed to edit message %d: %w", h.MessageID, err)
	}
	return nil
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.global == nil {
		return ctx.Err()
	}
	return d.global.Wait(ctx)
}

func keyboard(c Control) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(c.Text, c.URL)),
	)
}

// SplitMessage cuts text into chunks of at most limit characters. Each
// chunk but the last ends right before the last newline of its window, so
// the newline opens the next chunk; a window without a newline is cut at
// limit. Concatenating the chunks yields text.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := lastNewline(runes[:limit])
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
