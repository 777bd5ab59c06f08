package flow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowanvale/heliograph/internal/audit"
	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/envoy"
)

// Logger is a minimal logging interface for the flow package.
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

// EntryService is the slice of the entry store the flows depend on.
// *entry.Store satisfies it; tests substitute fakes.
type EntryService interface {
	List(ctx context.Context) ([]entry.Entry, error)
	Get(ctx context.Context, id string) (*entry.Entry, error)
	FindByUniqueID(ctx context.Context, uniqueID string) (*entry.Entry, error)
	Create(ctx context.Context, e *entry.Entry) error
	Update(ctx context.Context, e *entry.Entry) error
	UpdateOptions(ctx context.Context, id string, opts entry.Options) error
	Reload(ctx context.Context, id string) error
}

// ClientFactory builds a gateway client for live credential validation.
// The default wraps envoy.NewHTTPClient; tests inject fakes.
type ClientFactory func(cfg envoy.Config) envoy.Client

// Audit sources recorded with flow outcomes.
const (
	SourceAPI    = "api"
	SourceMDNS   = "mdns"
	SourceSystem = "system"
)

// DefaultIdleTTL is how long an untouched flow survives before the
// janitor discards it.
const DefaultIdleTTL = 15 * time.Minute

// expireInterval is how often the janitor scans for idle flows.
const expireInterval = time.Minute

// Manager owns every in-flight setup and options flow, keyed by flow
// id. Step execution is serialized per flow; distinct flows run
// concurrently. All methods are safe for concurrent use.
type Manager struct {
	entries   EntryService
	audits    audit.Repository
	newClient ClientFactory
	logger    Logger

	mu      sync.Mutex
	setups  map[string]*setupState
	options map[string]*optionsState

	idleTTL time.Duration
	now     func() time.Time
}

// NewManager creates a flow manager over the given entry service.
// The audit repository may be nil, which disables auditing.
func NewManager(entries EntryService, audits audit.Repository) *Manager {
	return &Manager{
		entries: entries,
		audits:  audits,
		newClient: func(cfg envoy.Config) envoy.Client {
			return envoy.NewHTTPClient(cfg)
		},
		logger:  noopLogger{},
		setups:  make(map[string]*setupState),
		options: make(map[string]*optionsState),
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
	}
}

// SetLogger sets the logger for the manager. Passing nil resets to the
// no-op logger.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// SetClientFactory replaces how validation clients are built. Tests use
// this to avoid touching the network.
func (m *Manager) SetClientFactory(f ClientFactory) {
	if f != nil {
		m.newClient = f
	}
}

// SetIdleTTL overrides how long an untouched flow survives.
func (m *Manager) SetIdleTTL(ttl time.Duration) {
	if ttl > 0 {
		m.idleTTL = ttl
	}
}

// Start runs the idle-flow janitor until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go m.expireLoop(ctx)
}

func (m *Manager) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireIdle(ctx)
		}
	}
}

// expiredFlow records a discarded flow for the audit trail.
type expiredFlow struct {
	id  string
	age time.Duration
}

// ExpireIdle discards flows whose last activity is older than the idle
// TTL and returns how many were dropped. Each expiry is audited.
func (m *Manager) ExpireIdle(ctx context.Context) int {
	now := m.now()
	cutoff := now.Add(-m.idleTTL)

	m.mu.Lock()
	var expired []expiredFlow
	for id, st := range m.setups {
		if st.touchedAt.Before(cutoff) {
			delete(m.setups, id)
			expired = append(expired, expiredFlow{id: id, age: now.Sub(st.createdAt)})
		}
	}
	for id, st := range m.options {
		if st.touchedAt.Before(cutoff) {
			delete(m.options, id)
			expired = append(expired, expiredFlow{id: id, age: now.Sub(st.createdAt)})
		}
	}
	m.mu.Unlock()

	for _, ef := range expired {
		m.logger.Info("flow expired", "flow_id", ef.id, "age", ef.age)
		m.audit(ctx, &audit.AuditLog{
			Action:     audit.ActionFlowExpired,
			EntityType: audit.EntityFlow,
			FlowID:     ef.id,
			Source:     SourceSystem,
			Details:    map[string]any{"age_seconds": int(ef.age.Seconds())},
		})
	}
	return len(expired)
}

// Cancel abandons an in-flight flow of either kind, discarding its
// state.
func (m *Manager) Cancel(ctx context.Context, flowID string) error {
	m.mu.Lock()
	_, isSetup := m.setups[flowID]
	_, isOptions := m.options[flowID]
	delete(m.setups, flowID)
	delete(m.options, flowID)
	m.mu.Unlock()

	if !isSetup && !isOptions {
		return ErrFlowNotFound
	}

	m.logger.Info("flow cancelled", "flow_id", flowID)
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionFlowInvalidated,
		EntityType: audit.EntityFlow,
		FlowID:     flowID,
		Source:     SourceAPI,
	})
	return nil
}

// Count returns the number of in-flight flows.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.setups) + len(m.options)
}

// generateFlowID creates a new flow identifier.
func generateFlowID() string {
	return "flw-" + uuid.NewString()[:8]
}

// audit writes one audit record, logging instead of failing when the
// write does not go through. Flow outcomes must not depend on the
// audit trail being writable.
func (m *Manager) audit(ctx context.Context, rec *audit.AuditLog) {
	if m.audits == nil {
		return
	}
	if err := m.audits.Create(ctx, rec); err != nil {
		m.logger.Warn("audit write failed", "action", rec.Action, "error", err)
	}
}
