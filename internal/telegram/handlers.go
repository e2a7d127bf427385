package telegram

import (
	"crypto/subtle"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/gitlabbot/internal/config"
	"github.com/user/gitlabbot/internal/render"
	"github.com/user/gitlabbot/internal/storage"
	"github.com/user/gitlabbot/pkg/logger"
)

// SourceLister returns the configured sources. *gitlab.Gate implements it.
type SourceLister interface {
	Sources() []config.Source
}

// Handlers implements the chat command flow: verification, adding and
// removing projects, changing verbosity and listing.
type Handlers struct {
	api              API
	store            *storage.Store
	sources          SourceLister
	defaultVerbosity render.Verbosity

	mu         sync.Mutex
	passphrase string
	pending    map[int64]struct{} // chats asked for the passphrase
}

// NewHandlers creates a new handlers instance.
func NewHandlers(api API, store *storage.Store, sources SourceLister, passphrase string, defaultVerbosity render.Verbosity) *Handlers {
	return &Handlers{
		api:              api,
		store:            store,
		sources:          sources,
		defaultVerbosity: defaultVerbosity,
		passphrase:       passphrase,
		pending:          make(map[int64]struct{}),
	}
}

// SetPassphrase replaces the verification passphrase.
func (h *Handlers) SetPassphrase(passphrase string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.passphrase = passphrase
}

// HandleCommand routes commands to appropriate handlers.
func (h *Handlers) HandleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	command := msg.Command()

	logger.Debug().
		Str("command", command).
		Int64("chat_id", chatID).
		Msg("Received command")

	switch command {
	case "start":
		h.handleStart(chatID)
	case "help":
		h.sendReply(chatID, helpText)
	case "addProject":
		h.handleAddProject(chatID)
	case "removeProject":
		h.handleRemoveProject(chatID)
	case "changeVerbosity":
		h.handleChangeVerbosity(chatID)
	case "listProjects":
		h.handleListProjects(chatID)
	default:
		h.sendReply(chatID, textUnknownCommand)
	}
}

// HandleText treats plain text as a passphrase attempt when the chat is
// waiting for verification and ignores it otherwise.
func (h *Handlers) HandleText(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	h.mu.Lock()
	_, waiting := h.pending[chatID]
	passphrase := h.passphrase
	h.mu.Unlock()
	if !waiting {
		return
	}

	if subtle.ConstantTimeCompare([]byte(msg.Text), []byte(passphrase)) != 1 {
		logger.Warn().Int64("chat_id", chatID).Msg("Wrong passphrase")
		h.sendReply(chatID, textPassphraseBad)
		return
	}

	h.mu.Lock()
	delete(h.pending, chatID)
	h.mu.Unlock()

	h.store.Verify(chatID)
	logger.Info().Int64("chat_id", chatID).Msg("Chat verified")
	h.sendReply(chatID, textPassphraseOK)
}

// HandleCallback handles inline keyboard callbacks.
func (h *Handlers) HandleCallback(callback *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		logger.Warn().Err(err).Msg("Failed to answer callback query")
	}
	if callback.Message == nil {
		return
	}

	chatID := callback.Message.Chat.ID
	messageID := callback.Message.MessageID

	prefix, level, name, ok := parseCallback(callback.Data)
	if !ok {
		logger.Warn().Str("data", callback.Data).Msg("Malformed callback data")
		return
	}
	if !h.store.IsVerified(chatID) {
		h.editReply(chatID, messageID, textNotVerified)
		return
	}
	source, ok := h.source(name)
	if !ok {
		h.editReply(chatID, messageID, textUnknownProject)
		return
	}

	switch prefix {
	case callbackAdd:
		if !source.Allows(chatID) {
			logger.Warn().Int64("chat_id", chatID).Str("source", source.Name).Msg("Chat not allowed to add project")
			h.editReply(chatID, messageID, textUnknownProject)
			return
		}
		if !h.store.Subscribe(source.Token, chatID, h.defaultVerbosity) {
			h.editReply(chatID, messageID, textAlreadyAdded)
			return
		}
		logger.Info().Int64("chat_id", chatID).Str("source", source.Name).Msg("Project added")
		h.editReply(chatID, messageID, textAdded)

	case callbackRemove:
		if !h.store.Unsubscribe(source.Token, chatID) {
			h.editReply(chatID, messageID, textNotAdded)
			return
		}
		logger.Info().Int64("chat_id", chatID).Str("source", source.Name).Msg("Project removed")
		h.editReply(chatID, messageID, textRemoved)

	case callbackVerbosity:
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, verbosityText(), verbosityKeyboard(source.Name))
		h.send(edit)

	case callbackVerbositySet:
		v, err := render.ParseVerbosity(level)
		if err != nil {
			logger.Warn().Err(err).Str("data", callback.Data).Msg("Invalid verbosity in callback")
			return
		}
		if !h.store.SetVerbosity(source.Token, chatID, v) {
			h.editReply(chatID, messageID, textNotAdded)
			return
		}
		logger.Info().Int64("chat_id", chatID).Str("source", source.Name).Int("verbosity", int(v)).Msg("Verbosity changed")
		h.editReply(chatID, messageID, textVerbosityChanged)

	default:
		logger.Warn().Str("data", callback.Data).Msg("Unknown callback")
	}
}

// handleStart verifies the chat directly when no passphrase is configured
// and asks for it otherwise.
func (h *Handlers) handleStart(chatID int64) {
	h.sendReply(chatID, textWelcome)

	if h.store.IsVerified(chatID) {
		h.sendReply(chatID, textAlreadyVerified)
		return
	}

	h.mu.Lock()
	open := h.passphrase == ""
	if !open {
		h.pending[chatID] = struct{}{}
	}
	h.mu.Unlock()

	if open {
		h.store.Verify(chatID)
		logger.Info().Int64("chat_id", chatID).Msg("Chat verified without passphrase")
		h.sendReply(chatID, textNowVerified)
		return
	}
	h.sendReply(chatID, textAskPassphrase)
}

func (h *Handlers) handleAddProject(chatID int64) {
	if !h.requireVerified(chatID) {
		return
	}

	var candidates []config.Source
	for _, s := range h.sources.Sources() {
		if _, subscribed := h.store.Subscription(s.Token, chatID); s.Allows(chatID) && !subscribed {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		h.sendReply(chatID, textNothingToAdd)
		return
	}

	msg := tgbotapi.NewMessage(chatID, textChooseAdd)
	msg.ReplyMarkup = projectKeyboard(callbackAdd, candidates)
	h.send(msg)
}

func (h *Handlers) handleRemoveProject(chatID int64) {
	if !h.requireVerified(chatID) {
		return
	}

	subscribed := h.subscribedSources(chatID)
	if len(subscribed) == 0 {
		h.sendReply(chatID, textNothingToRemove)
		return
	}

	msg := tgbotapi.NewMessage(chatID, textChooseRemove)
	msg.ReplyMarkup = projectKeyboard(callbackRemove, subscribed)
	h.send(msg)
}

func (h *Handlers) handleChangeVerbosity(chatID int64) {
	if !h.requireVerified(chatID) {
		return
	}

	subscribed := h.subscribedSources(chatID)
	if len(subscribed) == 0 {
		h.sendReply(chatID, textNoProjects)
		return
	}

	msg := tgbotapi.NewMessage(chatID, textChooseVerbosity)
	msg.ReplyMarkup = projectKeyboard(callbackVerbosity, subscribed)
	h.send(msg)
}

func (h *Handlers) handleListProjects(chatID int64) {
	var projects []subscribedProject
	for _, s := range h.sources.Sources() {
		if v, ok := h.store.Subscription(s.Token, chatID); ok {
			projects = append(projects, subscribedProject{Name: s.Name, Verbosity: v})
		}
	}

	msg := tgbotapi.NewMessage(chatID, projectList(projects))
	msg.ParseMode = tgbotapi.ModeHTML
	h.send(msg)
}

func (h *Handlers) requireVerified(chatID int64) bool {
	if h.store.IsVerified(chatID) {
		return true
	}
	h.sendReply(chatID, textNotVerified)
	return false
}

func (h *Handlers) subscribedSources(chatID int64) []config.Source {
	var out []config.Source
	for _, s := range h.sources.Sources() {
		if _, ok := h.store.Subscription(s.Token, chatID); ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *Handlers) source(name string) (config.Source, bool) {
	for _, s := range h.sources.Sources() {
		if s.Name == name {
			return s, true
		}
	}
	return config.Source{}, false
}

// sendReply sends a plain text reply.
func (h *Handlers) sendReply(chatID int64, text string) {
	h.send(tgbotapi.NewMessage(chatID, text))
}

// editReply replaces the text of a keyboard message, dropping the keyboard.
func (h *Handlers) editReply(chatID int64, messageID int, text string) {
	h.send(tgbotapi.NewEditMessageText(chatID, messageID, text))
}

func (h *Handlers) send(c tgbotapi.Chattable) {
	if _, err := h.api.Send(c); err != nil {
		logger.Error().Err(err).Msg("Failed to send reply")
	}
}
