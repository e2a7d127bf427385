// Package telegram provides Telegram bot functionality: the outbound
// notification dispatcher and the chat command flow.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/gitlabbot/pkg/logger"
)

// PollTimeout is the long-polling timeout of getUpdates, in seconds. The API
// handed to NewBot needs an HTTP timeout above it.
const PollTimeout = 60

// NewAPI connects to the Bot API with every request bounded by timeout.
func NewAPI(token string, debug bool, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: timeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug

	logger.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")
	return api, nil
}

// Bot represents the Telegram bot.
type Bot struct {
	api      *tgbotapi.BotAPI
	handlers *Handlers
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBot creates a bot that polls updates through api and hands them to
// handlers.
func NewBot(api *tgbotapi.BotAPI, handlers *Handlers) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:      api,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for updates.
func (b *Bot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = PollTimeout

	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					b.handleMessage(update.Message)
				} else if update.CallbackQuery != nil {
					b.handleCallback(update.CallbackQuery)
				}
			}
		}
	}()

	logger.Info().Msg("Telegram bot started, listening for updates")
}

// Stop gracefully stops the bot.
func (b *Bot) Stop() {
	logger.Info().Msg("Stopping Telegram bot")
	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

// handleMessage processes incoming messages.
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		b.handlers.HandleCommand(msg)
		return
	}
	if msg.Text != "" {
		b.handlers.HandleText(msg)
	}
}

// handleCallback processes callback queries from inline keyboards.
func (b *Bot) handleCallback(callback *tgbotapi.CallbackQuery) {
	b.handlers.HandleCallback(callback)
}
