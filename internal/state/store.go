// Package state implements the recoverable-state store: caller-supplied
// values that must survive a full-page navigation round trip. Everything
// lives under a single session-storage key holding a JSON map from request id
// to value, merged on every write so unrelated requests sharing the key never
// clobber each other.
package state

import (
	"context"
	"fmt"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/ua"
)

// DefaultStorageKey is the session-storage slot the store owns.
const DefaultStorageKey = "grantflow.recoverable_state"

// Store persists recoverable state in session-scoped storage.
type Store struct {
	storage ua.SessionStorage
	key     string
	log     *zap.Logger
}

// NewStore wires a store over the given session storage.
func NewStore(storage ua.SessionStorage, logger *zap.Logger) *Store {
	return &Store{
		storage: storage,
		key:     DefaultStorageKey,
		log:     logger.Named("state_store"),
	}
}

// RequestID derives the id a state entry is filed under: the action subject
// id joined with the sorted secondary subject ids. Distinct logical requests
// targeting the same subjects collide on purpose; the later write wins.
func RequestID(subject string, secondary ...string) string {
	if len(secondary) == 0 {
		return subject
	}
	ids := make([]string, len(secondary))
	copy(ids, secondary)
	sort.Strings(ids)
	return subject + "_" + strings.Join(ids, "_")
}

// Get returns the stored value for requestID, or ok=false when absent.
// Reading never consumes the entry; repeated reads return the same value.
func (s *Store) Get(ctx context.Context, requestID string) (json.RawMessage, bool, error) {
	entries, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	raw, ok := entries[requestID]
	return raw, ok, nil
}

// Set stores value under requestID, merging with whatever else already lives
// under the storage key. An existing entry for the same id is overwritten.
func (s *Store) Set(ctx context.Context, requestID string, value any) error {
	entries, err := s.load(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode recoverable state for %q: %w", requestID, err)
	}
	entries[requestID] = raw

	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode state map: %w", err)
	}
	if err := s.storage.Set(ctx, s.key, string(encoded)); err != nil {
		return fmt.Errorf("failed to persist state map: %w", err)
	}

	s.log.Debug("Recoverable state stored.", zap.String("request_id", requestID))
	return nil
}

func (s *Store) load(ctx context.Context) (map[string]json.RawMessage, error) {
	value, ok, err := s.storage.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read state map: %w", err)
	}
	entries := make(map[string]json.RawMessage)
	if !ok || value == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(value), &entries); err != nil {
		// A corrupt map would otherwise wedge every future request; start
		// fresh and keep the session usable.
		s.log.Warn("Discarding unreadable recoverable-state map.", zap.Error(err))
		return make(map[string]json.RawMessage), nil
	}
	return entries, nil
}
