package storage

// Track records status for the external event (token, kind, id) and reports
// whether the event is new, unchanged or changed. Records are never deleted.
func (s *Store) Track(token string, kind TrackKind, id int64, status string) TrackResult {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	events, ok := rec.tracked[kind]
	if !ok {
		events = make(map[int64]*TrackedEvent)
		rec.tracked[kind] = events
	}

	ev, ok := events[id]
	if !ok {
		ev = &TrackedEvent{Status: status, Handles: make(map[int64]int)}
		events[id] = ev
		s.save("save_tracked", func(p Persister) error { return p.SaveTracked(token, kind, id, status) })
		return TrackResult{Outcome: OutcomeFirstSeen, Event: ev.clone()}
	}

	previous := ev.Status
	if previous == status {
		return TrackResult{Outcome: OutcomeUnchanged, PreviousStatus: previous, Event: ev.clone()}
	}

	ev.Status = status
	s.save("save_tracked", func(p Persister) error { return p.SaveTracked(token, kind, id, status) })
	return TrackResult{Outcome: OutcomeChanged, PreviousStatus: previous, Event: ev.clone()}
}

// RecordHandle stores the message id of the notification sent to chatID for
// a tracked event. Unknown events are ignored.
func (s *Store) RecordHandle(token string, kind TrackKind, id int64, chatID int64, messageID int) {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev, ok := rec.tracked[kind][id]
	if !ok {
		return
	}
	ev.Handles[chatID] = messageID
	s.save("save_handle", func(p Persister) error { return p.SaveHandle(token, kind, id, chatID, messageID) })
}

// Tracked returns a copy of a tracked event.
func (s *Store) Tracked(token string, kind TrackKind, id int64) (TrackedEvent, bool) {
	rec := s.record(token)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ev, ok := rec.tracked[kind][id]
	if !ok {
		return TrackedEvent{}, false
	}
	return ev.clone(), true
}
