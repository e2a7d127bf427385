package gitlab

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/user/gitlabbot/internal/config"
	"github.com/user/gitlabbot/internal/metrics"
	"github.com/user/gitlabbot/pkg/logger"
)

// Webhook request headers set by GitLab.
const (
	HeaderToken     = "X-Gitlab-Token"
	HeaderEvent     = "X-Gitlab-Event"
	HeaderEventUUID = "X-Gitlab-Event-UUID"
)

// maxBodyBytes caps webhook bodies; GitLab push payloads are limited to
// 20 commits so real payloads stay far below it.
const maxBodyBytes = 10 << 20

// Delivery is an authorized, decoded webhook request.
type Delivery struct {
	ID     string // X-Gitlab-Event-UUID, or a generated id
	Source config.Source
	Event  Event
}

// Processor handles an authorized delivery.
type Processor interface {
	Handle(ctx context.Context, d *Delivery) error
}

// WebhookHandler handles incoming GitLab webhooks.
type WebhookHandler struct {
	gate      *Gate
	processor Processor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(gate *Gate, processor Processor) *WebhookHandler {
	return &WebhookHandler{
		gate:      gate,
		processor: processor,
	}
}

// ServeHTTP handles incoming webhook requests. The response carries only a
// status: 200 when handled or nothing to do, 403 for an unknown token, 404
// for an unknown event kind and 500 when the payload can't be rendered.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	header := r.Header.Get(HeaderEvent)

	source, ok := h.gate.Authorize(r.Header.Get(HeaderToken))
	if !ok {
		logger.Warn().Err(ErrUnauthorized).Str("event", header).Msg("Rejected webhook: token not in configuration")
		metrics.Webhook("", metrics.OutcomeUnauthorized)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	kind, err := ParseKind(header)
	if err != nil {
		logger.Error().Str("source", source.Name).Str("event", header).Msg("No handler for the event")
		metrics.Webhook("", metrics.OutcomeUnknownKind)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Error().Err(err).Str("source", source.Name).Msg("Failed to read webhook body")
		metrics.Webhook(kind.String(), metrics.OutcomeMalformed)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	event, err := Parse(kind, body)
	if err != nil {
		logger.Error().Err(err).Str("source", source.Name).Str("event", kind.String()).Msg("Failed to parse event")
		metrics.Webhook(kind.String(), metrics.OutcomeMalformed)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	id := r.Header.Get(HeaderEventUUID)
	if id == "" {
		id = uuid.NewString()
	}

	d := &Delivery{ID: id, Source: source, Event: event}
	if err := h.processor.Handle(r.Context(), d); err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, ErrMalformedPayload) {
			outcome = metrics.OutcomeMalformed
		}
		logger.Error().
			Err(err).
			Str("delivery", id).
			Str("source", source.Name).
			Str("event", kind.String()).
			Msg("Failed to handle event")
		metrics.Webhook(kind.String(), outcome)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger.Info().
		Str("delivery", id).
		Str("source", source.Name).
		Str("event", kind.String()).
		Msg("Webhook event handled")
	metrics.Webhook(kind.String(), metrics.OutcomeOK)
	w.WriteHeader(http.StatusOK)
}
