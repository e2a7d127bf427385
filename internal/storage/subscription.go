package storage

import (
	"sort"
	"sync"

	"github.com/user/gitlabbot/internal/metrics"
	"github.com/user/gitlabbot/internal/render"
	"github.com/user/gitlabbot/pkg/logger"
)

// Persister writes store mutations to durable storage. *Database
// implements it.
type Persister interface {
	AddVerifiedChat(chatID int64) error
	SaveSubscription(token string, chatID int64, v render.Verbosity) error
	DeleteSubscription(token string, chatID int64) error
	SaveTracked(token string, kind TrackKind, id int64, status string) error
	SaveHandle(token string, kind TrackKind, id int64, chatID int64, messageID int) error
}

// Store holds subscriptions and tracked events in memory and writes every
// mutation through to a Persister. Persistence failures are logged and the
// in-memory state stays authoritative until the next restart.
//
// All access to one source token is serialized by that source's mutex, so a
// command-flow unsubscribe and a webhook tracked-event update never
// interleave. The verified set has its own lock, always taken after a
// source lock when both are needed.
type Store struct {
	persist Persister

	mu      sync.Mutex // guards the sources map, not the records
	sources map[string]*sourceRecord

	vmu      sync.RWMutex
	verified map[int64]struct{}
}

type sourceRecord struct {
	mu          sync.Mutex
	subscribers map[int64]render.Verbosity
	tracked     map[TrackKind]map[int64]*TrackedEvent
}

// NewStore creates a store populated from snap. A nil persister keeps the
// store memory-only.
func NewStore(snap *Snapshot, persist Persister) *Store {
	s := &Store{
		persist:  persist,
		sources:  make(map[string]*sourceRecord),
		verified: make(map[int64]struct{}),
	}
	if snap == nil {
		return s
	}

	for _, chatID := range snap.Verified {
		s.verified[chatID] = struct{}{}
	}
	for token, src := range snap.Sources {
		rec := newSourceRecord()
		for chatID, v := range src.Subscribers {
			rec.subscribers[chatID] = v
		}
		for kind, events := range src.Tracked {
			rec.tracked[kind] = make(map[int64]*TrackedEvent, len(events))
			for id, ev := range events {
				copied := ev.clone()
				rec.tracked[kind][id] = &copied
			}
		}
		s.sources[token] = rec
	}
	return s
}

func newSourceRecord() *sourceRecord {
	rec := &sourceRecord{
		subscribers: make(map[int64]render.Verbosity),
		tracked:     make(map[TrackKind]map[int64]*TrackedEvent, len(TrackKinds)),
	}
	for _, kind := range TrackKinds {
		rec.tracked[kind] = make(map[int64]*TrackedEvent)
	}
	return rec
}

// record returns the record of token, creating an empty one.
func (s *Store) record(token string) *sourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sources[token]
	if !ok {
		rec = newSourceRecord()
		s.sources[token] = rec
	}
	return rec
}

// IsVerified reports whether chatID passed verification.
func (s *Store) IsVerified(chatID int64) bool {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	_, ok := s.verified[chatID]
	return ok
}

// Verify marks chatID as verified. It returns false if it already was.
func (s *Store) Verify(chatID int64) bool {
	s.vmu.Lock()
	defer s.vmu.Unlock()
	if _, ok := s.verified[chatID]; ok {
		return false
	}
	s.verified[chatID] = struct{}{}
	s.save("add_verified_chat", func(p Persister) error { return p.AddVerifiedChat(chatID) })
	return true
}

// Subscribe subscribes chatID to token. It returns false, changing nothing,
// if the chat is already subscribed.
func (s *Store) Subscribe(token string, chatID int64, v render.Verbosity) bool {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, ok := rec.subscribers[chatID]; ok {
		return false
	}
	rec.subscribers[chatID] = v
	s.save("save_subscription", func(p Persister) error { return p.SaveSubscription(token, chatID, v) })
	return true
}

// Unsubscribe removes the subscription. It returns false if there was none.
func (s *Store) Unsubscribe(token string, chatID int64) bool {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, ok := rec.subscribers[chatID]; !ok {
		return false
	}
	delete(rec.subscribers, chatID)
	s.save("delete_subscription", func(p Persister) error { return p.DeleteSubscription(token, chatID) })
	return true
}

// SetVerbosity changes the verbosity of an existing subscription.
func (s *Store) SetVerbosity(token string, chatID int64, v render.Verbosity) bool {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, ok := rec.subscribers[chatID]; !ok {
		return false
	}
	rec.subscribers[chatID] = v
	s.save("save_subscription", func(p Persister) error { return p.SaveSubscription(token, chatID, v) })
	return true
}

// Subscription returns the verbosity of chatID's subscription to token.
func (s *Store) Subscription(token string, chatID int64) (render.Verbosity, bool) {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	v, ok := rec.subscribers[chatID]
	return v, ok
}

// Resolve returns the delivery set of token: its subscribers that are also
// verified, ordered by chat id.
func (s *Store) Resolve(token string) []Recipient {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	s.vmu.RLock()
	defer s.vmu.RUnlock()

	recipients := make([]Recipient, 0, len(rec.subscribers))
	for chatID, v := range rec.subscribers {
		if _, ok := s.verified[chatID]; ok {
			recipients = append(recipients, Recipient{ChatID: chatID, Verbosity: v})
		}
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ChatID < recipients[j].ChatID })
	return recipients
}

// save runs a persistence write, logging and counting failures.
func (s *Store) save(op string, write func(Persister) error) {
	if s.persist == nil {
		return
	}
	if err := write(s.persist); err != nil {
		metrics.PersistError(op)
		logger.Error().Err(err).Str("op", op).Msg("Failed to persist store change, keeping in-memory state")
	}
}
