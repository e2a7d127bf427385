package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/user/gitlabbot/internal/render"
	"github.com/user/gitlabbot/pkg/logger"
)

// Legacy state files written by the JSON-file deployment of the bot.
const (
	LegacyVerifiedFile = "verified_chats.json"
	LegacyTableFile    = "chats_projects.json"
)

type legacySubscription struct {
	Verbosity *int `json:"verbosity"`
}

type legacyTracked struct {
	Status    string `json:"status"`
	MessageID int    `json:"message_id"`
}

// LoadLegacy reads verified_chats.json and chats_projects.json from dir.
// Missing files are treated as empty. In chats_projects.json every token maps
// to an object whose numeric keys are chat subscriptions and whose "jobs",
// "pipelines" and "merge_requests" keys hold tracked events; the two are
// split into separate maps here. A tracked event's message id is attached to
// the source's only subscriber and dropped when there are several, since
// the file doesn't say which chat it belongs to.
func LoadLegacy(dir string) (*Snapshot, error) {
	snap := &Snapshot{Sources: make(map[string]*SourceSnapshot)}

	if err := readLegacyJSON(filepath.Join(dir, LegacyVerifiedFile), &snap.Verified); err != nil {
		return nil, err
	}

	var table map[string]map[string]json.RawMessage
	if err := readLegacyJSON(filepath.Join(dir, LegacyTableFile), &table); err != nil {
		return nil, err
	}

	for token, entries := range table {
		src := snap.source(token)
		tracked := make(map[TrackKind]map[string]legacyTracked)

		for key, raw := range entries {
			if kind, ok := legacyTrackKind(key); ok {
				var events map[string]legacyTracked
				if err := json.Unmarshal(raw, &events); err != nil {
					return nil, fmt.Errorf("legacy %s: token entry %q: %w", LegacyTableFile, key, err)
				}
				tracked[kind] = events
				continue
			}

			chatID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("legacy %s: unexpected key %q", LegacyTableFile, key)
			}
			var sub legacySubscription
			if err := json.Unmarshal(raw, &sub); err != nil {
				return nil, fmt.Errorf("legacy %s: chat %d: %w", LegacyTableFile, chatID, err)
			}
			v := render.VerbosityFull
			if sub.Verbosity != nil {
				if v, err = render.ParseVerbosity(*sub.Verbosity); err != nil {
					return nil, fmt.Errorf("legacy %s: chat %d: %w", LegacyTableFile, chatID, err)
				}
			}
			src.Subscribers[chatID] = v
		}

		var only int64
		single := len(src.Subscribers) == 1
		for chatID := range src.Subscribers {
			only = chatID
		}

		for kind, events := range tracked {
			for key, lt := range events {
				id, err := strconv.ParseInt(key, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("legacy %s: %s id %q: %w", LegacyTableFile, kind, key, err)
				}
				ev := src.tracked(kind, id)
				ev.Status = lt.Status
				if lt.MessageID != 0 && single {
					ev.Handles[only] = lt.MessageID
				}
			}
		}
	}

	return snap, nil
}

// ImportLegacy copies the legacy JSON state in dir into db when db holds no
// data yet. It reports whether anything was imported.
func ImportLegacy(db *Database, dir string) (bool, error) {
	current, err := db.Load()
	if err != nil {
		return false, err
	}
	if !current.Empty() {
		logger.Debug().Msg("Database already populated, skipping legacy import")
		return false, nil
	}

	snap, err := LoadLegacy(dir)
	if err != nil {
		return false, err
	}
	if snap.Empty() {
		return false, nil
	}

	if err := db.Import(snap); err != nil {
		return false, err
	}
	logger.Info().
		Int("verified_chats", len(snap.Verified)).
		Int("sources", len(snap.Sources)).
		Str("dir", dir).
		Msg("Imported legacy JSON state")
	return true, nil
}

func legacyTrackKind(key string) (TrackKind, bool) {
	for _, kind := range TrackKinds {
		if string(kind) == key {
			return kind, true
		}
	}
	return "", false
}

func readLegacyJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("file", path).Msg("Legacy state file not found, assuming empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
