// ABOUTME: Audit log entity for tracking authority administration
// ABOUTME: Records who registered games and granted or revoked permissions

package store

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/2389/metasave/internal/record"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRegisterGame    AuditAction = "register_game"
	AuditGrantAuthority  AuditAction = "grant_authority"
	AuditRevokeAuthority AuditAction = "revoke_authority"
	AuditGenesis         AuditAction = "genesis"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditRegisterGame,
	AuditGrantAuthority,
	AuditRevokeAuthority,
	AuditGenesis,
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string           // UUID v4
	Sequence  uint64           // assigned by the store on append
	Actor     record.AccountID // who performed the action
	Action    AuditAction      // what action was performed
	Game      record.GameID    // game the action applied to
	Target    record.AccountID // affected account, empty for register_game
	Timestamp time.Time        // when it happened
	Detail    map[string]any   // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Actor  *record.AccountID
	Action *AuditAction
	Game   *record.GameID
	Limit  int // max results (default 100, max 1000)
}

// prepareAudit fills in the ID and timestamp if unset.
func prepareAudit(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// prepareEvent fills in the ID and timestamp if unset.
func prepareEvent(e *Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// matches reports whether e passes every set field of f.
func (f AuditFilter) matches(e *AuditEntry) bool {
	if f.Actor != nil && e.Actor != *f.Actor {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.Game != nil && e.Game != *f.Game {
		return false
	}
	return true
}

// IsValidAuditAction reports whether a is a known action.
func IsValidAuditAction(a AuditAction) bool {
	return slices.Contains(ValidAuditActions, a)
}

func cloneEvent(e *Event) *Event {
	c := *e
	c.Entry = e.Entry.Clone()
	return &c
}

func cloneAudit(e *AuditEntry) *AuditEntry {
	c := *e
	if e.Detail != nil {
		c.Detail = make(map[string]any, len(e.Detail))
		for k, v := range e.Detail {
			c.Detail[k] = v
		}
	}
	return &c
}
