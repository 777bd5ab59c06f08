package entry

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation limits.
const (
	maxTitleLength = 100
	maxHostLength  = 253
)

// Entry represents one configured Envoy gateway.
// This matches the database schema in migrations/20260215_100000_create_entries.up.sql.
type Entry struct {
	// Identity
	ID string `json:"id"`

	// UniqueID is the gateway serial number, nil until confirmed by
	// discovery, a serial probe or reauth. At most one entry may carry
	// a given unique id.
	UniqueID *string `json:"unique_id,omitempty"`

	// Title is the display name. Discovery may retitle an entry after
	// attaching a serial.
	Title string `json:"title"`

	// Connection data captured by the setup flow.
	Host     string `json:"host"`
	Serial   string `json:"serial,omitempty"`
	Username string `json:"username"`
	Password string `json:"-"`
	Name     string `json:"name,omitempty"`

	// Options is the tuning snapshot last saved by the options editor.
	Options Options `json:"options"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates an independent copy of the Entry. Pointer and slice
// fields are duplicated so modifications to the copy do not affect the
// original. This is essential for cache isolation.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}

	cpy := *e

	if e.UniqueID != nil {
		id := *e.UniqueID
		cpy.UniqueID = &id
	}
	cpy.Options = e.Options.Clone()

	return &cpy
}

// HasUniqueID reports whether a serial has been attached to this entry.
func (e *Entry) HasUniqueID() bool {
	return e.UniqueID != nil && *e.UniqueID != ""
}

// ValidateEntry checks the fields persisted by the setup flow.
// Credential correctness is established by connecting to the gateway,
// not here; only structural problems are rejected.
func ValidateEntry(e *Entry) error {
	if e == nil {
		return ErrInvalidEntry
	}

	host := strings.TrimSpace(e.Host)
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidHost)
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: host exceeds %d characters", ErrInvalidHost, maxHostLength)
	}
	if strings.ContainsAny(host, " \t/") {
		return fmt.Errorf("%w: %q", ErrInvalidHost, e.Host)
	}

	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}
	if len(e.Title) > maxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidEntry, maxTitleLength)
	}

	if strings.TrimSpace(e.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidEntry)
	}

	if e.UniqueID != nil && *e.UniqueID == "" {
		return fmt.Errorf("%w: unique id cannot be empty when set", ErrInvalidEntry)
	}

	return ValidateOptions(e.Options)
}

// GenerateID creates a new entry identifier.
func GenerateID() string {
	return "ent-" + uuid.NewString()[:8]
}
