package flow

import (
	"context"
	"sync"
	"time"

	"github.com/rowanvale/heliograph/internal/audit"
	"github.com/rowanvale/heliograph/internal/entry"
)

// optionsState is one in-flight options flow. Fields are guarded by mu
// except touchedAt, which the Manager maintains under its own lock.
type optionsState struct {
	mu       sync.Mutex
	finished bool

	id      string
	entryID string

	// snapshot is the options record as it stood when the flow opened.
	// The form is seeded from it and never tracks later edits to the
	// entry; the user saves over what they saw.
	snapshot entry.Options

	createdAt time.Time
	touchedAt time.Time
}

func (m *Manager) parkOptions(st *optionsState) *optionsState {
	if st.id == "" {
		st.id = generateFlowID()
	}
	now := m.now()
	st.createdAt = now
	st.touchedAt = now

	m.mu.Lock()
	m.options[st.id] = st
	m.mu.Unlock()
	return st
}

func (m *Manager) lookupOptions(flowID string) (*optionsState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.options[flowID]
	if !ok {
		return nil, ErrFlowNotFound
	}
	st.touchedAt = m.now()
	return st, nil
}

func (m *Manager) removeOptions(flowID string) {
	m.mu.Lock()
	delete(m.options, flowID)
	m.mu.Unlock()
}

// StartOptions begins an options flow for an entry. The form is seeded
// from an immutable snapshot of the entry's current options record.
func (m *Manager) StartOptions(ctx context.Context, entryID string) (*Result, error) {
	e, err := m.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	st := m.parkOptions(&optionsState{entryID: e.ID, snapshot: e.Options.Clone()})

	m.logger.Info("options flow started", "flow_id", st.id, "entry_id", e.ID)
	return formResult(st.id, stepUser, OptionsSchema(st.snapshot), nil), nil
}

// GetOptions returns the current form of an in-flight options flow.
func (m *Manager) GetOptions(_ context.Context, flowID string) (*Result, error) {
	st, err := m.lookupOptions(flowID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return nil, ErrFlowNotFound
	}
	return formResult(st.id, stepUser, OptionsSchema(st.snapshot), nil), nil
}

// SubmitOptions persists a submitted record verbatim as the entry's new
// options and finishes the flow. Only schema coercion and minimum
// bounds stand between the input and the stored record.
func (m *Manager) SubmitOptions(ctx context.Context, flowID string, input map[string]any) (*Result, error) {
	st, err := m.lookupOptions(flowID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return nil, ErrFlowNotFound
	}

	values, err := OptionsSchema(st.snapshot).Apply(input)
	if err != nil {
		return nil, err
	}

	opts := OptionsFromInput(values)
	if err := m.entries.UpdateOptions(ctx, st.entryID, opts); err != nil {
		return nil, err
	}

	st.finished = true
	m.removeOptions(st.id)

	m.logger.Info("entry options updated", "entry_id", st.entryID, "flow_id", st.id)
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionOptionsUpdated,
		EntityType: audit.EntityEntry,
		EntityID:   st.entryID,
		FlowID:     st.id,
		Source:     SourceAPI,
		Details:    map[string]any{"options": opts},
	})

	res := &Result{Kind: ResultCreated, FlowID: st.id}
	if updated, err := m.entries.Get(ctx, st.entryID); err == nil {
		res.Entry = updated
	}
	return res, nil
}
