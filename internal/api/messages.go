// ABOUTME: Request and response documents for every SaveData operation
// ABOUTME: Identical for the HTTP JSON API and the structpb gRPC service

package api

import (
	"time"

	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

// RegisterGameRequest registers a game for the caller.
type RegisterGameRequest struct {
	Game record.GameID `json:"game,string"`
}

// AuthorityRequest grants (AddAuthority) or revokes (RemoveAuthority) a
// permission. Access is ignored on revoke.
type AuthorityRequest struct {
	Game    record.GameID    `json:"game,string"`
	Account record.AccountID `json:"account"`
	Access  string           `json:"access,omitempty"` // external | internal_external
}

// PermissionsRequest asks for an account's permission list.
type PermissionsRequest struct {
	Account record.AccountID `json:"account"`
}

// Permission is one grant on the wire.
type Permission struct {
	Game   record.GameID `json:"game,string"`
	Access string        `json:"access"`
}

// PermissionsResponse lists an account's grants in stored order.
type PermissionsResponse struct {
	Account     record.AccountID `json:"account"`
	Permissions []Permission     `json:"permissions"`
}

// NewPermissionsResponse converts a stored permission list.
func NewPermissionsResponse(account record.AccountID, perms record.Permissions) PermissionsResponse {
	out := PermissionsResponse{Account: account, Permissions: make([]Permission, 0, len(perms))}
	for _, p := range perms {
		out.Permissions = append(out.Permissions, Permission{Game: p.Game, Access: p.Access.String()})
	}
	return out
}

// RecordRequest addresses a world record, or a user record when User is set.
type RecordRequest struct {
	Game  record.GameID    `json:"game,string"`
	User  record.AccountID `json:"user,omitempty"`
	Route string           `json:"route"`
}

// RecordResponse carries a whole record in stored order.
type RecordResponse struct {
	Game    record.GameID    `json:"game,string"`
	User    record.AccountID `json:"user,omitempty"`
	Route   string           `json:"route"`
	Entries []Entry          `json:"entries"`
}

// UpdateRequest inserts or replaces one entry.
type UpdateRequest struct {
	Game  record.GameID    `json:"game,string"`
	User  record.AccountID `json:"user,omitempty"`
	Route string           `json:"route"`
	Entry Entry            `json:"entry"`
}

// RemoveRequest deletes one entry by key.
type RemoveRequest struct {
	Game        record.GameID    `json:"game,string"`
	User        record.AccountID `json:"user,omitempty"`
	Route       string           `json:"route"`
	Key         string           `json:"key"`
	KeyEncoding string           `json:"key_encoding,omitempty"`
}

// ModRequest adds to a numeric world entry. Exactly one of Delta and Value
// is set; Value is base64 and must decode to 4 bytes.
type ModRequest struct {
	Game        record.GameID `json:"game,string"`
	Route       string        `json:"route"`
	Key         string        `json:"key"`
	KeyEncoding string        `json:"key_encoding,omitempty"`
	Delta       *int32        `json:"delta,omitempty"`
	Value       string        `json:"value,omitempty"`
}

// EventsRequest lists a game's ledger, newest first.
type EventsRequest struct {
	Game  record.GameID `json:"game,string"`
	Limit int           `json:"limit,omitempty"`
}

// Event is a ledger event on the wire.
type Event struct {
	ID        string           `json:"id"`
	Sequence  uint64           `json:"sequence"`
	Game      record.GameID    `json:"game,string"`
	Type      string           `json:"type"`
	Route     string           `json:"route"`
	Actor     record.AccountID `json:"actor"`
	Entry     Entry            `json:"entry"`
	CreatedAt time.Time        `json:"created_at"`
}

// FromEvent converts a stored event.
func FromEvent(e *store.Event) Event {
	return Event{
		ID:        e.ID,
		Sequence:  e.Sequence,
		Game:      e.Game,
		Type:      string(e.Type),
		Route:     e.Route.String(),
		Actor:     e.Actor,
		Entry:     FromDataEntry(e.Entry),
		CreatedAt: e.CreatedAt,
	}
}

// EventsResponse lists events newest first.
type EventsResponse struct {
	Events []Event `json:"events"`
}

// NewEventsResponse converts stored events.
func NewEventsResponse(events []*store.Event) EventsResponse {
	out := EventsResponse{Events: make([]Event, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, FromEvent(e))
	}
	return out
}

// AuditRequest filters the audit log. Empty fields match everything.
type AuditRequest struct {
	Actor  record.AccountID `json:"actor,omitempty"`
	Action string           `json:"action,omitempty"`
	Game   string           `json:"game,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// AuditEntry is an audit log entry on the wire.
type AuditEntry struct {
	ID        string           `json:"id"`
	Sequence  uint64           `json:"sequence"`
	Actor     record.AccountID `json:"actor"`
	Action    string           `json:"action"`
	Game      record.GameID    `json:"game,string"`
	Target    record.AccountID `json:"target,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Detail    map[string]any   `json:"detail,omitempty"`
}

// AuditResponse lists audit entries newest first.
type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// NewAuditResponse converts stored audit entries.
func NewAuditResponse(entries []*store.AuditEntry) AuditResponse {
	out := AuditResponse{Entries: make([]AuditEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, AuditEntry{
			ID:        e.ID,
			Sequence:  e.Sequence,
			Actor:     e.Actor,
			Action:    string(e.Action),
			Game:      e.Game,
			Target:    e.Target,
			Timestamp: e.Timestamp,
			Detail:    e.Detail,
		})
	}
	return out
}

// StatusResponse acknowledges a write.
type StatusResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
