// Package storage provides the subscription store and its SQLite persistence.
package storage

import "github.com/user/gitlabbot/internal/render"

// TrackKind names an event family whose notifications are edited in place.
type TrackKind string

const (
	TrackJobs          TrackKind = "jobs"
	TrackPipelines     TrackKind = "pipelines"
	TrackMergeRequests TrackKind = "merge_requests"
)

// TrackKinds lists every TrackKind.
var TrackKinds = []TrackKind{TrackJobs, TrackPipelines, TrackMergeRequests}

// Outcome classifies a tracked status update.
type Outcome int

const (
	// OutcomeFirstSeen means the external id had never been seen.
	OutcomeFirstSeen Outcome = iota + 1
	// OutcomeUnchanged means the status equals the stored one.
	OutcomeUnchanged
	// OutcomeChanged means the status differs from the stored one.
	OutcomeChanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFirstSeen:
		return "first_seen"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// TrackedEvent is the last known state of a job, pipeline or merge request.
// Handles maps a chat id to the Telegram message id of the notification
// sent to that chat.
type TrackedEvent struct {
	Status  string
	Handles map[int64]int
}

func (t *TrackedEvent) clone() TrackedEvent {
	handles := make(map[int64]int, len(t.Handles))
	for chatID, msgID := range t.Handles {
		handles[chatID] = msgID
	}
	return TrackedEvent{Status: t.Status, Handles: handles}
}

// TrackResult is returned by Store.Track.
type TrackResult struct {
	Outcome        Outcome
	PreviousStatus string
	Event          TrackedEvent // copy after the update
}

// Recipient is one entry of a delivery set.
type Recipient struct {
	ChatID    int64
	Verbosity render.Verbosity
}

// Snapshot is the full persisted state, used for loading and importing.
type Snapshot struct {
	Verified []int64
	Sources  map[string]*SourceSnapshot
}

// SourceSnapshot is the persisted state of one source token.
type SourceSnapshot struct {
	Subscribers map[int64]render.Verbosity
	Tracked     map[TrackKind]map[int64]*TrackedEvent
}

// Empty reports whether the snapshot holds no data.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Verified) == 0 && len(s.Sources) == 0)
}

func (s *Snapshot) source(token string) *SourceSnapshot {
	if s.Sources == nil {
		s.Sources = make(map[string]*SourceSnapshot)
	}
	src, ok := s.Sources[token]
	if !ok {
		src = &SourceSnapshot{
			Subscribers: make(map[int64]render.Verbosity),
			Tracked:     make(map[TrackKind]map[int64]*TrackedEvent),
		}
		s.Sources[token] = src
	}
	return src
}

func (s *SourceSnapshot) tracked(kind TrackKind, id int64) *TrackedEvent {
	events, ok := s.Tracked[kind]
	if !ok {
		events = make(map[int64]*TrackedEvent)
		s.Tracked[kind] = events
	}
	ev, ok := events[id]
	if !ok {
		ev = &TrackedEvent{Handles: make(map[int64]int)}
		events[id] = ev
	}
	return ev
}

// Rows as stored in SQLite.

type verifiedRow struct {
	ChatID int64 `db:"chat_id"`
}

type subscriptionRow struct {
	Token     string `db:"token"`
	ChatID    int64  `db:"chat_id"`
	Verbosity int    `db:"verbosity"`
}

type trackedRow struct {
	Token      string `db:"token"`
	Kind       string `db:"kind"`
	ExternalID int64  `db:"external_id"`
	Status     string `db:"status"`
}

type handleRow struct {
	Token      string `db:"token"`
	Kind       string `db:"kind"`
	ExternalID int64  `db:"external_id"`
	ChatID     int64  `db:"chat_id"`
	MessageID  int    `db:"message_id"`
}
