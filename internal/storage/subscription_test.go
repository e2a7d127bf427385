package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/gitlabbot/internal/render"
)

// fakePersister records writes and can be told to fail.
type fakePersister struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakePersister) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if op == f.failOn {
		return errors.New("disk full")
	}
	return nil
}

func (f *fakePersister) AddVerifiedChat(chatID int64) error {
	return f.record(fmt.Sprintf("verify %d", chatID))
}

func (f *fakePersister) SaveSubscription(token string, chatID int64, v render.Verbosity) error {
	return f.record(fmt.Sprintf("sub %s %d %d", token, chatID, v))
}

func (f *fakePersister) DeleteSubscription(token string, chatID int64) error {
	return f.record(fmt.Sprintf("unsub %s %d", token, chatID))
}

func (f *fakePersister) SaveTracked(token string, kind TrackKind, id int64, status string) error {
	return f.record(fmt.Sprintf("track %s %s %d %s", token, kind, id, status))
}

func (f *fakePersister) SaveHandle(token string, kind TrackKind, id int64, chatID int64, messageID int) error {
	return f.record(fmt.Sprintf("handle %s %s %d %d %d", token, kind, id, chatID, messageID))
}

func TestResolve_SubscribedAndVerified(t *testing.T) {
	s := NewStore(nil, nil)

	s.Subscribe("abc", 333, render.VerbosityMinimal)
	s.Subscribe("abc", 111, render.VerbosityLinks)
	s.Subscribe("abc", 222, render.VerbosityFull)
	s.Subscribe("other", 444, render.VerbosityFull)

	s.Verify(111)
	s.Verify(222)
	s.Verify(444)

	got := s.Resolve("abc")
	assert.Equal(t, []Recipient{
		{ChatID: 111, Verbosity: render.VerbosityLinks},
		{ChatID: 222, Verbosity: render.VerbosityFull},
	}, got, "333 is subscribed but unverified, 444 is verified but not subscribed")

	assert.Empty(t, s.Resolve("nobody"))
}

func TestResolve_Property(t *testing.T) {
	// A chat is in the delivery set of a token iff it is subscribed to that
	// token and verified, for every combination over a small universe.
	tokens := []string{"t1", "t2", "t3"}
	chats := []int64{1, 2, 3, 4, 5, 6}

	s := NewStore(nil, nil)
	subscribed := map[string]map[int64]bool{}
	verified := map[int64]bool{}

	for i, token := range tokens {
		subscribed[token] = map[int64]bool{}
		for j, chat := range chats {
			if (i+j)%2 == 0 || j%3 == 0 {
				s.Subscribe(token, chat, render.Verbosity(j%4))
				subscribed[token][chat] = true
			}
		}
	}
	for _, chat := range chats {
		if chat%2 == 1 || chat == 6 {
			s.Verify(chat)
			verified[chat] = true
		}
	}
	s.Unsubscribe("t2", 1)
	subscribed["t2"][1] = false

	for _, token := range tokens {
		in := map[int64]bool{}
		for _, r := range s.Resolve(token) {
			in[r.ChatID] = true
		}
		for _, chat := range chats {
			assert.Equal(t, subscribed[token][chat] && verified[chat], in[chat], "token %s chat %d", token, chat)
		}
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	p := &fakePersister{}
	s := NewStore(nil, p)

	assert.True(t, s.Subscribe("abc", 1, render.VerbosityFull))
	assert.False(t, s.Subscribe("abc", 1, render.VerbosityMinimal), "second subscribe changes nothing")

	v, ok := s.Subscription("abc", 1)
	require.True(t, ok)
	assert.Equal(t, render.VerbosityFull, v)

	assert.True(t, s.SetVerbosity("abc", 1, render.VerbosityLinks))
	assert.False(t, s.SetVerbosity("abc", 2, render.VerbosityLinks))
	v, _ = s.Subscription("abc", 1)
	assert.Equal(t, render.VerbosityLinks, v)

	assert.True(t, s.Unsubscribe("abc", 1))
	assert.False(t, s.Unsubscribe("abc", 1))
	_, ok = s.Subscription("abc", 1)
	assert.False(t, ok)

	assert.True(t, s.Verify(1))
	assert.False(t, s.Verify(1))
	assert.True(t, s.IsVerified(1))

	assert.Equal(t, []string{
		"sub abc 1 3",
		"sub abc 1 1",
		"unsub abc 1",
		"verify 1",
	}, p.calls)
}

func TestTrack_Outcomes(t *testing.T) {
	p := &fakePersister{}
	s := NewStore(nil, p)

	res := s.Track("abc", TrackJobs, 42, "running")
	assert.Equal(t, OutcomeFirstSeen, res.Outcome)
	assert.Equal(t, "running", res.Event.Status)

	s.RecordHandle("abc", TrackJobs, 42, 111, 900)

	res = s.Track("abc", TrackJobs, 42, "running")
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 900, res.Event.Handles[111])

	res = s.Track("abc", TrackJobs, 42, "success")
	assert.Equal(t, OutcomeChanged, res.Outcome)
	assert.Equal(t, "running", res.PreviousStatus)

	ev, ok := s.Tracked("abc", TrackJobs, 42)
	require.True(t, ok)
	assert.Equal(t, "success", ev.Status)
	assert.Equal(t, map[int64]int{111: 900}, ev.Handles)

	// Same external id under another kind or token is a different event.
	assert.Equal(t, OutcomeFirstSeen, s.Track("abc", TrackPipelines, 42, "running").Outcome)
	assert.Equal(t, OutcomeFirstSeen, s.Track("xyz", TrackJobs, 42, "running").Outcome)

	assert.Equal(t, []string{
		"track abc jobs 42 running",
		"handle abc jobs 42 111 900",
		"track abc jobs 42 success",
		"track abc pipelines 42 running",
		"track xyz jobs 42 running",
	}, p.calls)
}

func TestTrack_SnapshotIsACopy(t *testing.T) {
	s := NewStore(nil, nil)
	res := s.Track("abc", TrackMergeRequests, 5, "opened")
	res.Event.Handles[1] = 10

	ev, _ := s.Tracked("abc", TrackMergeRequests, 5)
	assert.Empty(t, ev.Handles)
}

func TestTrackedAndSubscribersAreSeparate(t *testing.T) {
	s := NewStore(nil, nil)
	s.Subscribe("abc", 42, render.VerbosityFull)
	s.Verify(42)
	s.Track("abc", TrackJobs, 42, "running")
	s.RecordHandle("abc", TrackJobs, 42, 42, 1)

	assert.Equal(t, []Recipient{{ChatID: 42, Verbosity: render.VerbosityFull}}, s.Resolve("abc"))
	assert.True(t, s.Unsubscribe("abc", 42))
	_, ok := s.Tracked("abc", TrackJobs, 42)
	assert.True(t, ok, "removing a chat keeps tracked events")
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	p := &fakePersister{failOn: "sub abc 1 3"}
	s := NewStore(nil, p)

	assert.True(t, s.Subscribe("abc", 1, render.VerbosityFull))
	_, ok := s.Subscription("abc", 1)
	assert.True(t, ok)
}

func TestNewStore_FromSnapshot(t *testing.T) {
	snap := &Snapshot{Verified: []int64{1}}
	src := snap.source("abc")
	src.Subscribers[1] = render.VerbosityDetails
	src.tracked(TrackPipelines, 7).Status = "pending"
	src.tracked(TrackPipelines, 7).Handles[1] = 55

	s := NewStore(snap, nil)
	assert.Equal(t, []Recipient{{ChatID: 1, Verbosity: render.VerbosityDetails}}, s.Resolve("abc"))

	res := s.Track("abc", TrackPipelines, 7, "pending")
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 55, res.Event.Handles[1])
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(nil, &fakePersister{})
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(chat int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Subscribe("abc", chat, render.VerbosityFull)
				s.Verify(chat)
				s.Resolve("abc")
				s.Unsubscribe("abc", chat)
			}
		}(int64(i))
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Track("abc", TrackJobs, id, fmt.Sprintf("s%d", j%3))
				s.RecordHandle("abc", TrackJobs, id, id, j)
			}
		}(int64(i))
	}
	wg.Wait()

	for i := int64(0); i < 8; i++ {
		ev, ok := s.Tracked("abc", TrackJobs, i)
		require.True(t, ok)
		assert.Equal(t, 99, ev.Handles[i])
	}
}
