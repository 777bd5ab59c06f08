package entry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	entries map[string]*Entry
	// For testing error paths
	createErr        error
	updateErr        error
	updateOptionsErr error
	deleteErr        error
	listErr          error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		entries: make(map[string]*Entry),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		return e.Clone(), nil
	}
	return nil, ErrEntryNotFound
}

func (m *MockRepository) GetByUniqueID(_ context.Context, uniqueID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.UniqueID != nil && *e.UniqueID == uniqueID {
			return e.Clone(), nil
		}
	}
	return nil, ErrEntryNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Entry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, *e.Clone())
	}
	return entries, nil
}

func (m *MockRepository) Create(_ context.Context, e *Entry) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[e.ID]; exists {
		return ErrEntryExists
	}
	for _, other := range m.entries {
		if e.UniqueID != nil && other.UniqueID != nil && *e.UniqueID == *other.UniqueID {
			return ErrUniqueIDConflict
		}
	}

	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *MockRepository) Update(_ context.Context, e *Entry) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[e.ID]; !exists {
		return ErrEntryNotFound
	}

	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *MockRepository) UpdateOptions(_ context.Context, id string, opts Options) error {
	if m.updateOptionsErr != nil {
		return m.updateOptionsErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[id]
	if !exists {
		return ErrEntryNotFound
	}

	e.Options = opts.Clone()
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[id]; !exists {
		return ErrEntryNotFound
	}

	delete(m.entries, id)
	return nil
}

// addEntry adds an entry directly to the mock for test setup.
func (m *MockRepository) addEntry(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
}

// removeEntry drops an entry from the mock without going through the store.
func (m *MockRepository) removeEntry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// eventRecorder captures store events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (r *eventRecorder) last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

func TestStore_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	repo.addEntry(testEntry("ent-1", "111100000001", "192.168.1.10"))
	repo.addEntry(testEntry("ent-2", "222200000002", "192.168.1.11"))

	if err := store.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	t.Run("propagates repository errors", func(t *testing.T) {
		repo.listErr = errors.New("db locked")
		defer func() { repo.listErr = nil }()

		if err := store.RefreshCache(ctx); err == nil {
			t.Error("RefreshCache() expected error")
		}
	})
}

func TestStore_Get(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	repo.addEntry(testEntry("ent-get", "122212345678", "192.168.1.20"))
	if err := store.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	t.Run("serves from cache", func(t *testing.T) {
		// Remove from the backing repo; the cache copy must survive.
		repo.removeEntry("ent-get")

		got, err := store.Get(ctx, "ent-get")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Host != "192.168.1.20" {
			t.Errorf("Host = %q, want %q", got.Host, "192.168.1.20")
		}
	})

	t.Run("returned entry is isolated from cache", func(t *testing.T) {
		got, err := store.Get(ctx, "ent-get")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}

		got.Host = "10.0.0.1"
		got.Options.DisabledEndpoints = append(got.Options.DisabledEndpoints, "endpoint_inverters")

		again, err := store.Get(ctx, "ent-get")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if again.Host != "192.168.1.20" {
			t.Error("cache entry was mutated through a returned clone")
		}
		if len(again.Options.DisabledEndpoints) != 0 {
			t.Error("cache options were mutated through a returned clone")
		}
	})

	t.Run("falls back to repository on cache miss", func(t *testing.T) {
		repo.addEntry(testEntry("ent-cold", "133312345678", "192.168.1.21"))

		got, err := store.Get(ctx, "ent-cold")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != "ent-cold" {
			t.Errorf("ID = %q, want ent-cold", got.ID)
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		_, err := store.Get(ctx, "ent-missing")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Get() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestStore_Create(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	rec := &eventRecorder{}
	store.Subscribe(rec.record)

	t.Run("generates prefixed ID when empty", func(t *testing.T) {
		e := testEntry("", "122212345678", "192.168.1.30")

		if err := store.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !strings.HasPrefix(e.ID, "ent-") {
			t.Errorf("ID = %q, want ent- prefix", e.ID)
		}

		got, err := store.Get(ctx, e.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Title != "Envoy 122212345678" {
			t.Errorf("Title = %q", got.Title)
		}
	})

	t.Run("emits created event", func(t *testing.T) {
		ev, ok := rec.last()
		if !ok {
			t.Fatal("no events recorded")
		}
		if ev.Kind != EventCreated {
			t.Errorf("event kind = %q, want %q", ev.Kind, EventCreated)
		}
		if ev.Entry == nil || ev.Entry.Host != "192.168.1.30" {
			t.Errorf("event entry = %+v", ev.Entry)
		}
	})

	t.Run("rejects invalid entries before persisting", func(t *testing.T) {
		e := testEntry("", "144412345678", "")

		err := store.Create(ctx, e)
		if !errors.Is(err, ErrInvalidHost) {
			t.Errorf("Create() error = %v, want ErrInvalidHost", err)
		}
		if len(rec.kinds()) != 1 {
			t.Error("event emitted for failed create")
		}
	})

	t.Run("surfaces unique id conflicts", func(t *testing.T) {
		e := testEntry("", "122212345678", "192.168.1.31")

		err := store.Create(ctx, e)
		if !errors.Is(err, ErrUniqueIDConflict) {
			t.Errorf("Create() error = %v, want ErrUniqueIDConflict", err)
		}
	})
}

func TestStore_Update(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	e := testEntry("ent-upd", "155512345678", "192.168.1.40")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := &eventRecorder{}
	store.Subscribe(rec.record)

	t.Run("updates and emits event", func(t *testing.T) {
		e.Host = "192.168.1.41"
		if err := store.Update(ctx, e); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, _ := store.Get(ctx, "ent-upd")
		if got.Host != "192.168.1.41" {
			t.Errorf("Host = %q, want updated", got.Host)
		}

		ev, ok := rec.last()
		if !ok || ev.Kind != EventUpdated {
			t.Errorf("last event = %+v, want updated", ev)
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		ghost := testEntry("ent-ghost", "166612345678", "192.168.1.42")
		err := store.Update(ctx, ghost)
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Update() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestStore_UpdateOptions(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	e := testEntry("ent-opts", "177712345678", "192.168.1.45")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := &eventRecorder{}
	store.Subscribe(rec.record)

	t.Run("persists, caches and notifies", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ScanInterval = 5
		opts.DisableNegativeProduction = true

		if err := store.UpdateOptions(ctx, "ent-opts", opts); err != nil {
			t.Fatalf("UpdateOptions() error = %v", err)
		}

		got, _ := store.Get(ctx, "ent-opts")
		if got.Options.ScanInterval != 5 || !got.Options.DisableNegativeProduction {
			t.Errorf("Options = %+v, want updated", got.Options)
		}

		ev, ok := rec.last()
		if !ok || ev.Kind != EventUpdated {
			t.Fatalf("last event = %+v, want updated", ev)
		}
		if ev.Entry.Options.ScanInterval != 5 {
			t.Error("event carries stale options")
		}
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		opts := DefaultOptions()
		opts.GetDataTimeout = 10

		err := store.UpdateOptions(ctx, "ent-opts", opts)
		if !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("UpdateOptions() error = %v, want ErrInvalidOptions", err)
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		err := store.UpdateOptions(ctx, "ent-missing", DefaultOptions())
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("UpdateOptions() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestStore_Delete(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	e := testEntry("ent-del", "188812345678", "192.168.1.50")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := &eventRecorder{}
	store.Subscribe(rec.record)

	t.Run("deletes and emits snapshot", func(t *testing.T) {
		if err := store.Delete(ctx, "ent-del"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		_, err := store.Get(ctx, "ent-del")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrEntryNotFound", err)
		}

		ev, ok := rec.last()
		if !ok || ev.Kind != EventDeleted {
			t.Fatalf("last event = %+v, want deleted", ev)
		}
		if ev.Entry == nil || ev.Entry.Host != "192.168.1.50" {
			t.Error("deleted event should carry the last known entry state")
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		err := store.Delete(ctx, "ent-never")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Delete() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestStore_Reload(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	e := testEntry("ent-rel", "199912345678", "192.168.1.55")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := &eventRecorder{}
	store.Subscribe(rec.record)

	t.Run("refreshes cache from repository", func(t *testing.T) {
		// Simulate an external host rewrite.
		moved := e.Clone()
		moved.Host = "192.168.1.56"
		repo.addEntry(moved)

		if err := store.Reload(ctx, "ent-rel"); err != nil {
			t.Fatalf("Reload() error = %v", err)
		}

		got, _ := store.Get(ctx, "ent-rel")
		if got.Host != "192.168.1.56" {
			t.Errorf("Host = %q, want refreshed", got.Host)
		}

		ev, ok := rec.last()
		if !ok || ev.Kind != EventReloaded {
			t.Errorf("last event = %+v, want reloaded", ev)
		}
	})

	t.Run("returns ErrEntryNotFound for nonexistent", func(t *testing.T) {
		err := store.Reload(ctx, "ent-missing")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("Reload() error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestStore_FindByUniqueID(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	withSerial := testEntry("ent-a", "122212345678", "192.168.1.60")
	bare := testEntry("ent-b", "", "192.168.1.61")
	bare.Title, bare.Name = "Envoy", "Envoy"
	repo.addEntry(withSerial)
	repo.addEntry(bare)

	t.Run("falls back to repository before cache load", func(t *testing.T) {
		got, err := store.FindByUniqueID(ctx, "122212345678")
		if err != nil {
			t.Fatalf("FindByUniqueID() error = %v", err)
		}
		if got.ID != "ent-a" {
			t.Errorf("ID = %q, want ent-a", got.ID)
		}
	})

	if err := store.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	t.Run("scans cache once populated", func(t *testing.T) {
		repo.removeEntry("ent-a")

		got, err := store.FindByUniqueID(ctx, "122212345678")
		if err != nil {
			t.Fatalf("FindByUniqueID() error = %v", err)
		}
		if got.ID != "ent-a" {
			t.Errorf("ID = %q, want ent-a", got.ID)
		}
	})

	t.Run("returns ErrEntryNotFound for unknown serial", func(t *testing.T) {
		_, err := store.FindByUniqueID(ctx, "000000000000")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("FindByUniqueID() error = %v, want ErrEntryNotFound", err)
		}
	})

	t.Run("empty serial never matches", func(t *testing.T) {
		_, err := store.FindByUniqueID(ctx, "")
		if !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("FindByUniqueID(\"\") error = %v, want ErrEntryNotFound", err)
		}
	})
}

func TestStore_List(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	repo.addEntry(testEntry("ent-2", "222200000002", "192.168.1.71"))
	repo.addEntry(testEntry("ent-1", "111100000001", "192.168.1.70"))

	if err := store.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID != "ent-1" || entries[1].ID != "ent-2" {
		t.Errorf("List() order = %q, %q; want ent-1, ent-2", entries[0].ID, entries[1].ID)
	}
}

func TestStore_GetStats(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	realtime := testEntry("ent-rt", "122200000001", "192.168.1.80")
	realtime.Options.EnableRealtimeUpdates = true
	bare := testEntry("ent-bare", "", "192.168.1.81")
	bare.Title, bare.Name = "Envoy", "Envoy"

	repo.addEntry(realtime)
	repo.addEntry(bare)
	if err := store.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", stats.TotalEntries)
	}
	if stats.WithUniqueID != 1 {
		t.Errorf("WithUniqueID = %d, want 1", stats.WithUniqueID)
	}
	if stats.RealtimeEnabled != 1 {
		t.Errorf("RealtimeEnabled = %d, want 1", stats.RealtimeEnabled)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	e := testEntry("ent-conc", "122212345678", "192.168.1.90")
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := store.Get(ctx, "ent-conc"); err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				opts := DefaultOptions()
				opts.ScanInterval = 5 + j
				if err := store.UpdateOptions(ctx, "ent-conc", opts); err != nil {
					t.Errorf("UpdateOptions() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
