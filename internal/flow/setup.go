package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rowanvale/heliograph/internal/audit"
	"github.com/rowanvale/heliograph/internal/entry"
	"github.com/rowanvale/heliograph/internal/envoy"
)

// stepUser is the single interactive step of the setup flow.
const stepUser = "user"

// setupState is one in-flight setup flow. Fields are guarded by mu
// except touchedAt, which the Manager maintains under its own lock.
type setupState struct {
	mu       sync.Mutex
	finished bool

	id     string
	source string

	// discoveredHost locks the host field when the flow came from
	// discovery.
	discoveredHost string

	// host, serial and username remember submitted values so a
	// redisplay after a validation error keeps them.
	host     string
	serial   string
	username string

	// uniqueID is the gateway serial once discovery or the serial
	// probe has confirmed it.
	uniqueID string

	// discoveredSerial is set once at park time for discovery-initiated
	// flows and never mutated, so the Manager may read it under its own
	// lock to deduplicate repeated announcements.
	discoveredSerial string

	// reauthEntryID is the entry being reauthenticated, empty for new
	// setups.
	reauthEntryID string

	errors map[string]string

	createdAt time.Time
	touchedAt time.Time
}

// form renders the current user form. Callers hold st.mu.
func (st *setupState) form() *Result {
	serial := st.serial
	if serial == "" {
		serial = st.uniqueID
	}

	res := formResult(st.id, stepUser, SetupSchema(SetupSchemaParams{
		DiscoveredHost: st.discoveredHost,
		Host:           st.host,
		Serial:         serial,
		Username:       st.username,
	}), st.errors)

	if st.uniqueID != "" {
		res.Placeholders = map[string]string{
			KeySerial: st.uniqueID,
			KeyHost:   st.discoveredHost,
		}
	}
	return res
}

// parkSetup registers a setup flow and stamps its clock.
func (m *Manager) parkSetup(st *setupState) *setupState {
	if st.id == "" {
		st.id = generateFlowID()
	}
	now := m.now()
	st.createdAt = now
	st.touchedAt = now

	m.mu.Lock()
	m.setups[st.id] = st
	m.mu.Unlock()
	return st
}

// lookupSetup finds an in-flight setup flow and refreshes its idle
// clock.
func (m *Manager) lookupSetup(flowID string) (*setupState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.setups[flowID]
	if !ok {
		return nil, ErrFlowNotFound
	}
	st.touchedAt = m.now()
	return st, nil
}

func (m *Manager) removeSetup(flowID string) {
	m.mu.Lock()
	delete(m.setups, flowID)
	m.mu.Unlock()
}

// StartSetup begins a user-initiated setup flow and returns its first
// form.
func (m *Manager) StartSetup(_ context.Context) (*Result, error) {
	st := m.parkSetup(&setupState{source: SourceAPI})

	st.mu.Lock()
	res := st.form()
	st.mu.Unlock()

	m.logger.Info("setup flow started", "flow_id", st.id)
	return res, nil
}

// StartReauth begins a reauthentication flow against an existing entry.
// The returned form is blank; the credentials must be re-entered in
// full.
func (m *Manager) StartReauth(ctx context.Context, entryID string) (*Result, error) {
	e, err := m.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	st := m.parkSetup(&setupState{source: SourceAPI, reauthEntryID: e.ID})

	st.mu.Lock()
	res := st.form()
	st.mu.Unlock()

	m.logger.Info("reauth flow started", "flow_id", st.id, "entry_id", e.ID)
	return res, nil
}

// GetSetup returns the current form of an in-flight setup flow,
// including any error codes from the last submission.
func (m *Manager) GetSetup(_ context.Context, flowID string) (*Result, error) {
	st, err := m.lookupSetup(flowID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return nil, ErrFlowNotFound
	}
	return st.form(), nil
}

// HandleDiscovery reconciles one discovery event against the configured
// entries. A matched serial refreshes the stored host when the gateway
// moved within the same IP family; a host configured without a serial
// adopts one. Both abort with already_configured. An unknown gateway
// parks a setup flow whose form carries the discovered address, locked.
func (m *Manager) HandleDiscovery(ctx context.Context, ev DiscoveryEvent, source string) (*Result, error) {
	if ev.Serial == "" || ev.Host == "" {
		return nil, ErrInvalidEvent
	}
	if source == "" {
		source = SourceMDNS
	}

	entries, err := m.entries.List(ctx)
	if err != nil {
		return nil, err
	}

	flowID := generateFlowID()
	rec := Reconcile(entries, ev)

	switch rec.Outcome {
	case ReconcileKnownSerial:
		if rec.UpdateHost {
			if err := m.moveEntryHost(ctx, rec.Entry, ev.Host, flowID, source); err != nil {
				return nil, err
			}
		}
		m.auditAbort(ctx, flowID, source, AbortAlreadyConfigured, map[string]any{
			"serial": ev.Serial,
			"host":   ev.Host,
		})
		return abortResult(flowID, AbortAlreadyConfigured), nil

	case ReconcileAdoptSerial:
		e := rec.Entry
		serial := ev.Serial
		e.UniqueID = &serial
		e.Title = rec.Title
		if err := m.entries.Update(ctx, e); err != nil {
			return nil, err
		}
		m.reloadEntry(ctx, e.ID)
		m.logger.Info("discovery attached serial",
			"entry_id", e.ID, "serial", serial, "title", e.Title)
		m.audit(ctx, &audit.AuditLog{
			Action:     audit.ActionSerialAttached,
			EntityType: audit.EntityEntry,
			EntityID:   e.ID,
			FlowID:     flowID,
			Source:     source,
			Details:    map[string]any{"serial": serial, "title": e.Title},
		})
		m.auditAbort(ctx, flowID, source, AbortAlreadyConfigured, map[string]any{
			"serial": ev.Serial,
			"host":   ev.Host,
		})
		return abortResult(flowID, AbortAlreadyConfigured), nil
	}

	// Gateways announce repeatedly. One parked flow per serial is
	// enough; later announcements keep it alive instead of stacking up.
	if existing := m.discoveryInProgress(ev.Serial); existing != "" {
		m.logger.Debug("discovery already in progress",
			"serial", ev.Serial, "flow_id", existing)
		return abortResult(existing, AbortAlreadyInProgress), nil
	}

	st := m.parkSetup(&setupState{
		id:               flowID,
		source:           source,
		discoveredHost:   ev.Host,
		uniqueID:         ev.Serial,
		discoveredSerial: ev.Serial,
	})

	st.mu.Lock()
	res := st.form()
	st.mu.Unlock()

	m.logger.Info("discovery parked setup flow",
		"flow_id", flowID, "serial", ev.Serial, "host", ev.Host)
	return res, nil
}

// discoveryInProgress returns the id of a parked discovery flow for the
// serial, refreshing its idle clock, or "" when there is none.
func (m *Manager) discoveryInProgress(serial string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, st := range m.setups {
		if st.discoveredSerial == serial {
			st.touchedAt = m.now()
			return id
		}
	}
	return ""
}

// SubmitSetup feeds user-form input to a setup flow. The result is a
// redisplayed form carrying an error code, an abort, or the created
// entry.
func (m *Manager) SubmitSetup(ctx context.Context, flowID string, input map[string]any) (*Result, error) {
	st, err := m.lookupSetup(flowID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return nil, ErrFlowNotFound
	}

	values, err := st.form().Schema.Apply(input)
	if err != nil {
		return nil, err
	}

	res, err := m.runSetupSubmit(ctx, st, values)
	if err != nil {
		return nil, err
	}
	if res.Kind != ResultForm {
		st.finished = true
		m.removeSetup(st.id)
	}
	return res, nil
}

// runSetupSubmit implements the user-form step. Callers hold st.mu.
func (m *Manager) runSetupSubmit(ctx context.Context, st *setupState, values map[string]any) (*Result, error) {
	host := stringAt(values, KeyHost)
	serial := stringAt(values, KeySerial)
	username := stringAt(values, KeyUsername)
	password := stringAt(values, KeyPassword)

	// Duplicate hosts abort before the gateway is touched. Reauth is
	// exempt: its host necessarily collides with the target entry.
	if st.reauthEntryID == "" {
		configured, err := m.hostConfigured(ctx, host)
		if err != nil {
			return nil, err
		}
		if configured {
			m.auditAbort(ctx, st.id, st.source, AbortAlreadyConfigured, map[string]any{"host": host})
			return abortResult(st.id, AbortAlreadyConfigured), nil
		}
	}

	client := m.newClient(envoy.Config{
		Host:     host,
		Username: username,
		Password: password,
		Serial:   serial,
	})

	if _, err := client.FetchData(ctx); err != nil {
		code := classifyValidationError(err)
		if code == ErrorUnknown {
			m.logger.Error("unexpected validation failure",
				"flow_id", st.id, "host", host, "error", err)
		} else {
			m.logger.Info("gateway validation failed",
				"flow_id", st.id, "host", host, "code", code)
		}

		st.host = host
		st.serial = serial
		st.username = username
		st.errors = map[string]string{errorKeyBase: code}
		return st.form(), nil
	}
	st.errors = nil

	if st.reauthEntryID != "" {
		return m.finishReauth(ctx, st, host, serial, username, password)
	}

	// Best-effort serial probe so the entry can be deduplicated and
	// named. Transport failures leave the unique id unset.
	if st.uniqueID == "" {
		probed, err := client.FullSerialNumber(ctx)
		if err != nil {
			m.logger.Debug("serial probe failed", "flow_id", st.id, "host", host, "error", err)
		} else if probed != "" {
			st.uniqueID = probed
		}
	}

	if st.uniqueID != "" {
		claimed, err := m.entries.FindByUniqueID(ctx, st.uniqueID)
		if err != nil && !errors.Is(err, entry.ErrEntryNotFound) {
			return nil, err
		}
		if claimed != nil {
			if claimed.Host != host {
				if err := m.moveEntryHost(ctx, claimed, host, st.id, st.source); err != nil {
					return nil, err
				}
			}
			m.auditAbort(ctx, st.id, st.source, AbortAlreadyConfigured, map[string]any{
				"serial": st.uniqueID,
				"host":   host,
			})
			return abortResult(st.id, AbortAlreadyConfigured), nil
		}
	}

	name := envoyName(st.uniqueID)
	e := &entry.Entry{
		ID:       entry.GenerateID(),
		Title:    name,
		Host:     host,
		Serial:   serial,
		Username: username,
		Password: password,
		Name:     name,
		Options:  entry.DefaultOptions(),
	}
	if st.uniqueID != "" {
		uid := st.uniqueID
		e.UniqueID = &uid
	}

	if err := m.entries.Create(ctx, e); err != nil {
		if errors.Is(err, entry.ErrUniqueIDConflict) {
			// Lost a race with another flow claiming the serial.
			m.auditAbort(ctx, st.id, st.source, AbortAlreadyConfigured, map[string]any{
				"serial": st.uniqueID,
			})
			return abortResult(st.id, AbortAlreadyConfigured), nil
		}
		return nil, err
	}

	m.logger.Info("entry created", "entry_id", e.ID, "title", e.Title, "flow_id", st.id)
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionEntryCreated,
		EntityType: audit.EntityEntry,
		EntityID:   e.ID,
		FlowID:     st.id,
		Source:     st.source,
		Details:    map[string]any{"title": e.Title, "host": host},
	})

	return &Result{Kind: ResultCreated, FlowID: st.id, Title: e.Title, Entry: e}, nil
}

// finishReauth overwrites the target entry's connection data with the
// validated credentials. The display name is recomputed; the title and
// unique id stay.
func (m *Manager) finishReauth(ctx context.Context, st *setupState, host, serial, username, password string) (*Result, error) {
	target, err := m.entries.Get(ctx, st.reauthEntryID)
	if err != nil {
		return nil, err
	}

	target.Host = host
	target.Serial = serial
	target.Username = username
	target.Password = password
	target.Name = envoyName(st.uniqueID)
	if err := m.entries.Update(ctx, target); err != nil {
		return nil, err
	}

	m.logger.Info("entry reauthenticated", "entry_id", target.ID, "flow_id", st.id)
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionEntryReauthed,
		EntityType: audit.EntityEntry,
		EntityID:   target.ID,
		FlowID:     st.id,
		Source:     st.source,
		Details:    map[string]any{"host": host},
	})

	return abortResult(st.id, AbortReauthSuccessful), nil
}

// moveEntryHost updates an entry's stored host and requests a reload so
// its poller reconnects.
func (m *Manager) moveEntryHost(ctx context.Context, e *entry.Entry, newHost, flowID, source string) error {
	oldHost := e.Host
	e.Host = newHost
	if err := m.entries.Update(ctx, e); err != nil {
		return err
	}
	m.reloadEntry(ctx, e.ID)

	m.logger.Info("entry host updated",
		"entry_id", e.ID, "old_host", oldHost, "new_host", newHost)
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionHostUpdated,
		EntityType: audit.EntityEntry,
		EntityID:   e.ID,
		FlowID:     flowID,
		Source:     source,
		Details:    map[string]any{"old_host": oldHost, "new_host": newHost},
	})
	return nil
}

// reloadEntry asks the store to re-announce an entry. Reload failures
// are logged, not propagated: the data change already stuck.
func (m *Manager) reloadEntry(ctx context.Context, entryID string) {
	if err := m.entries.Reload(ctx, entryID); err != nil {
		m.logger.Warn("entry reload failed", "entry_id", entryID, "error", err)
	}
}

// hostConfigured reports whether any entry already uses the host.
func (m *Manager) hostConfigured(ctx context.Context, host string) (bool, error) {
	entries, err := m.entries.List(ctx)
	if err != nil {
		return false, err
	}
	for i := range entries {
		if entries[i].Host == host {
			return true, nil
		}
	}
	return false, nil
}

// classifyValidationError maps gateway failures onto form error codes.
// Credential rejections and transport failures are expected outcomes;
// anything else is unknown.
func classifyValidationError(err error) string {
	switch {
	case errors.Is(err, envoy.ErrAuthentication):
		return ErrorInvalidAuth
	case errors.Is(err, envoy.ErrConnection), errors.Is(err, envoy.ErrUnexpectedStatus):
		return ErrorCannotConnect
	default:
		return ErrorUnknown
	}
}

// auditAbort records a flow abort with its reason code.
func (m *Manager) auditAbort(ctx context.Context, flowID, source, reason string, details map[string]any) {
	if details == nil {
		details = make(map[string]any)
	}
	details["reason"] = reason
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionFlowAborted,
		EntityType: audit.EntityFlow,
		FlowID:     flowID,
		Source:     source,
		Details:    details,
	})
}
