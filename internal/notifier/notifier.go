// Package notifier turns authorized webhook deliveries into Telegram
// notifications for every chat entitled to them.
package notifier

import (
	"context"
	"fmt"
	"strconv"

	"github.com/user/gitlabbot/internal/gitlab"
	"github.com/user/gitlabbot/internal/metrics"
	"github.com/user/gitlabbot/internal/render"
	"github.com/user/gitlabbot/internal/storage"
	"github.com/user/gitlabbot/internal/telegram"
	"github.com/user/gitlabbot/pkg/logger"
)

// Dispatcher delivers messages to chats. *telegram.Dispatcher implements it.
type Dispatcher interface {
	Send(ctx context.Context, chatID int64, text string, control *telegram.Control) (telegram.Handle, error)
	EditControl(ctx context.Context, h telegram.Handle, control telegram.Control) error
}

// Notifier sends notifications to Telegram chats.
type Notifier struct {
	store      *storage.Store
	dispatcher Dispatcher
	events     *keyedMutex
}

// NewNotifier creates a new notifier instance.
func NewNotifier(store *storage.Store, dispatcher Dispatcher) *Notifier {
	return &Notifier{
		store:      store,
		dispatcher: dispatcher,
		events:     newKeyedMutex(),
	}
}

// Handle notifies the delivery set of d's source. Jobs, pipelines and merge
// requests get one message per chat whose button is edited as the status
// changes; every other event is sent as a new message. A failed delivery to
// one chat is logged and the others still receive theirs. The returned
// error means the event could not be rendered, and nothing was sent.
func (n *Notifier) Handle(ctx context.Context, d *gitlab.Delivery) error {
	recipients := n.store.Resolve(d.Source.Token)
	if len(recipients) == 0 {
		logger.Warn().
			Str("delivery", d.ID).
			Str("source", d.Source.Name).
			Str("event", d.Event.Kind().String()).
			Msg("No chats")
		return nil
	}

	if t, ok := d.Event.(gitlab.Trackable); ok {
		return n.handleTracked(ctx, d, t, recipients)
	}
	return n.broadcast(ctx, d, recipients)
}

func (n *Notifier) broadcast(ctx context.Context, d *gitlab.Delivery, recipients []storage.Recipient) error {
	kind := d.Event.Kind().String()
	bodies := newBodies(d.Event)

	// Render everything first so a bad payload sends nothing.
	for _, r := range recipients {
		if _, err := bodies.get(r.Verbosity); err != nil {
			return err
		}
	}

	for _, r := range recipients {
		text, _ := bodies.get(r.Verbosity)
		if text == "" {
			metrics.Notification(kind, metrics.ActionSkip, nil)
			continue
		}
		_, err := n.dispatcher.Send(ctx, r.ChatID, text, nil)
		metrics.Notification(kind, metrics.ActionSend, err)
		if err != nil {
			logger.Error().
				Err(err).
				Str("delivery", d.ID).
				Int64("chat_id", r.ChatID).
				Msg("Failed to send notification")
		}
	}
	return nil
}

func (n *Notifier) handleTracked(ctx context.Context, d *gitlab.Delivery, t gitlab.Trackable, recipients []storage.Recipient) error {
	kind := t.Kind().String()
	id := t.TrackingID()
	status := t.TrackingStatus()

	badge, err := render.Badge(status)
	if err != nil {
		return fmt.Errorf("%w: %s %d: %w", gitlab.ErrMalformedPayload, kind, id, err)
	}
	trackKind, err := trackKindOf(t)
	if err != nil {
		return err
	}

	unlock := n.events.Lock(d.Source.Token + "/" + string(trackKind) + "/" + strconv.FormatInt(id, 10))
	defer unlock()

	res := n.store.Track(d.Source.Token, trackKind, id, status)
	control := telegram.Control{Text: badge, URL: t.TrackingURL()}
	bodies := newBodies(t)

	log := logger.WithField("delivery", d.ID)
	log.Debug().
		Str("source", d.Source.Name).
		Str("event", kind).
		Int64("id", id).
		Str("status", status).
		Str("outcome", res.Outcome.String()).
		Msg("Tracked event update")

	for _, r := range recipients {
		messageID, sent := res.Event.Handles[r.ChatID]

		switch {
		case !sent:
			text, err := bodies.get(r.Verbosity)
			if err != nil {
				return err
			}
			h, err := n.dispatcher.Send(ctx, r.ChatID, text, &control)
			metrics.Notification(kind, metrics.ActionSend, err)
			if err != nil {
				log.Error().Err(err).Int64("chat_id", r.ChatID).Int64("id", id).Msg("Failed to send notification")
				continue
			}
			n.store.RecordHandle(d.Source.Token, trackKind, id, r.ChatID, h.MessageID)

		case res.Outcome == storage.OutcomeChanged:
			err := n.dispatcher.EditControl(ctx, telegram.Handle{ChatID: r.ChatID, MessageID: messageID}, control)
			metrics.Notification(kind, metrics.ActionEdit, err)
			if err != nil {
				log.Error().Err(err).Int64("chat_id", r.ChatID).Int64("id", id).Msg("Failed to update notification")
			}

		default:
			metrics.Notification(kind, metrics.ActionSkip, nil)
			log.Debug().Int64("chat_id", r.ChatID).Int64("id", id).Msg("Status unchanged, nothing to send")
		}
	}
	return nil
}

func trackKindOf(t gitlab.Trackable) (storage.TrackKind, error) {
	switch t.(type) {
	case *gitlab.JobEvent:
		return storage.TrackJobs, nil
	case *gitlab.PipelineEvent:
		return storage.TrackPipelines, nil
	case *gitlab.MergeRequestEvent:
		return storage.TrackMergeRequests, nil
	default:
		return "", fmt.Errorf("no tracking kind for %T", t)
	}
}

// bodies renders an event lazily, once per verbosity.
type bodies struct {
	event gitlab.Event
	cache map[render.Verbosity]string
}

func newBodies(event gitlab.Event) *bodies {
	return &bodies{event: event, cache: make(map[render.Verbosity]string, len(render.Levels))}
}

func (b *bodies) get(v render.Verbosity) (string, error) {
	if text, ok := b.cache[v]; ok {
		return text, nil
	}
	text, err := render.Render(b.event, v)
	if err != nil {
		return "", err
	}
	b.cache[v] = text
	return text, nil
}
