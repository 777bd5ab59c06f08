package entry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger is a minimal logging interface for the entry package.
// Matches the signature of slog-style loggers used by the application.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log messages. Used when no logger is provided.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// EventKind categorises a store mutation.
type EventKind string

// Event kinds emitted by the store.
const (
	// EventCreated fires after a new entry is persisted.
	EventCreated EventKind = "created"

	// EventUpdated fires after entry data or options change.
	EventUpdated EventKind = "updated"

	// EventReloaded fires when an entry must be torn down and set up
	// again, e.g. after discovery rewrites its host.
	EventReloaded EventKind = "reloaded"

	// EventDeleted fires after an entry is removed.
	EventDeleted EventKind = "deleted"
)

// Event describes a change to a stored entry. Entry is an isolated
// snapshot; for deletions it holds the last known state.
type Event struct {
	Kind  EventKind
	Entry *Entry
}

// Store provides cached access to entries with persistence backing.
// All reads are served from an in-memory cache after the first load;
// mutations write through to the repository and then update the cache.
// Returned entries are clones, so callers can modify them freely.
type Store struct {
	repo    Repository
	cache   map[string]*Entry
	cacheMu sync.RWMutex
	logger  Logger

	subsMu sync.Mutex
	subs   []func(Event)
}

// NewStore creates an entry store backed by the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		cache:  make(map[string]*Entry),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Subscribe registers a callback invoked synchronously after each
// successful mutation. Callbacks must not block; long work should be
// handed off to a goroutine or channel.
func (s *Store) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	s.subsMu.Lock()
	s.subs = append(s.subs, fn)
	s.subsMu.Unlock()
}

// notify delivers an event to all subscribers outside the cache lock.
func (s *Store) notify(kind EventKind, e *Entry) {
	s.subsMu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(Event{Kind: kind, Entry: e.Clone()})
	}
}

// RefreshCache reloads all entries from the repository into the cache.
// Call on startup and whenever the database is modified out of band.
func (s *Store) RefreshCache(ctx context.Context) error {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing entry cache: %w", err)
	}

	cache := make(map[string]*Entry, len(entries))
	for i := range entries {
		cache[entries[i].ID] = entries[i].Clone()
	}

	s.cacheMu.Lock()
	s.cache = cache
	s.cacheMu.Unlock()

	s.logger.Info("entry cache refreshed", "count", len(entries))
	return nil
}

// Get retrieves an entry by ID, preferring the cache.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	s.cacheMu.RLock()
	if e, ok := s.cache[id]; ok {
		cpy := e.Clone()
		s.cacheMu.RUnlock()
		return cpy, nil
	}
	s.cacheMu.RUnlock()

	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[id] = e.Clone()
	s.cacheMu.Unlock()

	return e, nil
}

// List returns all entries sorted by title then ID.
// Serves from the cache when populated, otherwise queries the repository.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.cacheMu.RLock()
	if len(s.cache) > 0 {
		entries := make([]Entry, 0, len(s.cache))
		for _, e := range s.cache {
			entries = append(entries, *e.Clone())
		}
		s.cacheMu.RUnlock()
		sortEntries(entries)
		return entries, nil
	}
	s.cacheMu.RUnlock()

	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

// FindByUniqueID returns the entry carrying the given serial, or
// ErrEntryNotFound. Scans the cache when populated.
func (s *Store) FindByUniqueID(ctx context.Context, uniqueID string) (*Entry, error) {
	if uniqueID == "" {
		return nil, ErrEntryNotFound
	}

	s.cacheMu.RLock()
	if len(s.cache) > 0 {
		for _, e := range s.cache {
			if e.UniqueID != nil && *e.UniqueID == uniqueID {
				cpy := e.Clone()
				s.cacheMu.RUnlock()
				return cpy, nil
			}
		}
		s.cacheMu.RUnlock()
		return nil, ErrEntryNotFound
	}
	s.cacheMu.RUnlock()

	return s.repo.GetByUniqueID(ctx, uniqueID)
}

// Create validates and persists a new entry. An empty ID is generated.
func (s *Store) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if err := ValidateEntry(e); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[e.ID] = e.Clone()
	s.cacheMu.Unlock()

	s.logger.Info("entry created",
		"entry_id", e.ID,
		"title", e.Title,
		"host", e.Host,
	)
	s.notify(EventCreated, e)
	return nil
}

// Update validates and persists changes to an existing entry.
func (s *Store) Update(ctx context.Context, e *Entry) error {
	if err := ValidateEntry(e); err != nil {
		return err
	}

	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[e.ID] = e.Clone()
	s.cacheMu.Unlock()

	s.logger.Info("entry updated", "entry_id", e.ID, "host", e.Host)
	s.notify(EventUpdated, e)
	return nil
}

// UpdateOptions validates and persists a new options snapshot for the
// entry, leaving the rest of the row untouched.
func (s *Store) UpdateOptions(ctx context.Context, id string, opts Options) error {
	if err := ValidateOptions(opts); err != nil {
		return err
	}

	if err := s.repo.UpdateOptions(ctx, id, opts); err != nil {
		return err
	}

	// Re-read so the cache carries the repository's updated_at.
	fetched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("entry options persisted but refresh failed",
			"entry_id", id,
			"error", err,
		)
		return nil
	}

	s.cacheMu.Lock()
	s.cache[id] = fetched.Clone()
	s.cacheMu.Unlock()

	s.logger.Info("entry options updated", "entry_id", id)
	s.notify(EventUpdated, fetched)
	return nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	snapshot, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()

	s.logger.Info("entry deleted", "entry_id", id, "title", snapshot.Title)
	s.notify(EventDeleted, snapshot)
	return nil
}

// Reload re-reads an entry from the repository and announces that its
// worker must be restarted. Used after host rewrites and reauth.
func (s *Store) Reload(ctx context.Context, id string) error {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[id] = e.Clone()
	s.cacheMu.Unlock()

	s.logger.Info("entry reloaded", "entry_id", id, "host", e.Host)
	s.notify(EventReloaded, e)
	return nil
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.cacheMu.RLock()
	if len(s.cache) > 0 {
		count := len(s.cache)
		s.cacheMu.RUnlock()
		return count, nil
	}
	s.cacheMu.RUnlock()

	entries, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Stats summarises the configured entries.
type Stats struct {
	TotalEntries    int `json:"total_entries"`
	WithUniqueID    int `json:"with_unique_id"`
	RealtimeEnabled int `json:"realtime_enabled"`
}

// GetStats returns summary statistics about configured entries.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalEntries: len(entries)}
	for i := range entries {
		if entries[i].HasUniqueID() {
			stats.WithUniqueID++
		}
		if entries[i].Options.EnableRealtimeUpdates {
			stats.RealtimeEnabled++
		}
	}
	return stats, nil
}

// sortEntries orders entries by title then ID, matching the repository.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Title != entries[j].Title {
			return entries[i].Title < entries[j].Title
		}
		return entries[i].ID < entries[j].ID
	})
}
