// ABOUTME: Transport-neutral SaveData operations over api documents
// ABOUTME: Both the HTTP handlers and the gRPC service call these after authenticating

package gateway

import (
	"context"
	"fmt"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/record"
	"github.com/2389/metasave/internal/store"
)

var okStatus = api.StatusResponse{OK: true}

func parseRoute(s string) (record.Route, error) {
	r, err := record.ParseRoute(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return r, nil
}

func parseAccess(s string) (record.Access, error) {
	a, err := record.ParseAccess(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return a, nil
}

func requireAccount(name string, a record.AccountID) error {
	if a == "" {
		return fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return nil
}

func decodeEntry(e api.Entry) (record.DataEntry, error) {
	entry, err := e.DataEntry()
	if err != nil {
		return record.DataEntry{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return entry, nil
}

func decodeKey(s, encoding string) ([]byte, error) {
	key, err := api.DecodeKey(s, encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", errBadRequest, err)
	}
	return key, nil
}

func (g *Gateway) registerGame(ctx context.Context, caller record.AccountID, req api.RegisterGameRequest) (api.StatusResponse, error) {
	return okStatus, g.service.RegisterGame(ctx, caller, req.Game)
}

func (g *Gateway) addAuthority(ctx context.Context, caller record.AccountID, req api.AuthorityRequest) (api.StatusResponse, error) {
	if err := requireAccount("account", req.Account); err != nil {
		return api.StatusResponse{}, err
	}
	access, err := parseAccess(req.Access)
	if err != nil {
		return api.StatusResponse{}, err
	}
	return okStatus, g.service.AddAuthority(ctx, caller, req.Game, req.Account, access)
}

func (g *Gateway) removeAuthority(ctx context.Context, caller record.AccountID, req api.AuthorityRequest) (api.StatusResponse, error) {
	if err := requireAccount("account", req.Account); err != nil {
		return api.StatusResponse{}, err
	}
	return okStatus, g.service.RemoveAuthority(ctx, caller, req.Game, req.Account)
}

func (g *Gateway) getPermissions(ctx context.Context, _ record.AccountID, req api.PermissionsRequest) (api.PermissionsResponse, error) {
	if err := requireAccount("account", req.Account); err != nil {
		return api.PermissionsResponse{}, err
	}
	perms, err := g.service.Permissions(ctx, req.Account)
	if err != nil {
		return api.PermissionsResponse{}, err
	}
	return api.NewPermissionsResponse(req.Account, perms), nil
}

func (g *Gateway) getRecord(ctx context.Context, caller record.AccountID, req api.RecordRequest) (api.RecordResponse, error) {
	route, err := parseRoute(req.Route)
	if err != nil {
		return api.RecordResponse{}, err
	}
	var rec record.DataRecord
	if req.User == "" {
		rec, err = g.service.WorldRecord(ctx, caller, req.Game, route)
	} else {
		rec, err = g.service.UserRecord(ctx, caller, req.Game, req.User, route)
	}
	if err != nil {
		return api.RecordResponse{}, err
	}
	return api.RecordResponse{
		Game:    req.Game,
		User:    req.User,
		Route:   route.String(),
		Entries: api.FromDataRecord(rec),
	}, nil
}

func (g *Gateway) updateRecord(ctx context.Context, caller record.AccountID, req api.UpdateRequest) (api.StatusResponse, error) {
	route, err := parseRoute(req.Route)
	if err != nil {
		return api.StatusResponse{}, err
	}
	entry, err := decodeEntry(req.Entry)
	if err != nil {
		return api.StatusResponse{}, err
	}
	if req.User == "" {
		return okStatus, g.service.UpdateWorldRecord(ctx, caller, req.Game, route, entry)
	}
	return okStatus, g.service.UpdateUserRecord(ctx, caller, req.Game, req.User, route, entry)
}

func (g *Gateway) removeRecord(ctx context.Context, caller record.AccountID, req api.RemoveRequest) (api.StatusResponse, error) {
	route, err := parseRoute(req.Route)
	if err != nil {
		return api.StatusResponse{}, err
	}
	key, err := decodeKey(req.Key, req.KeyEncoding)
	if err != nil {
		return api.StatusResponse{}, err
	}
	if req.User == "" {
		return okStatus, g.service.RemoveWorldRecord(ctx, caller, req.Game, route, key)
	}
	return okStatus, g.service.RemoveUserRecord(ctx, caller, req.Game, req.User, route, key)
}

func (g *Gateway) modRecord(ctx context.Context, caller record.AccountID, req api.ModRequest) (api.StatusResponse, error) {
	route, err := parseRoute(req.Route)
	if err != nil {
		return api.StatusResponse{}, err
	}
	key, err := decodeKey(req.Key, req.KeyEncoding)
	if err != nil {
		return api.StatusResponse{}, err
	}

	var value []byte
	switch {
	case req.Delta != nil && req.Value != "":
		return api.StatusResponse{}, fmt.Errorf("%w: set delta or value, not both", errBadRequest)
	case req.Delta != nil:
		value = record.EncodeInt32(*req.Delta)
	default:
		// A value of the wrong width is the merge's own ErrBadSize.
		value, err = api.DecodeBytes(req.Value, api.EncodingBase64, api.EncodingBase64)
		if err != nil {
			return api.StatusResponse{}, fmt.Errorf("%w: value: %v", errBadRequest, err)
		}
	}
	return okStatus, g.service.ModWorldRecord(ctx, caller, req.Game, route, record.DataEntry{Key: key, Value: value})
}

func (g *Gateway) listEvents(ctx context.Context, caller record.AccountID, req api.EventsRequest) (api.EventsResponse, error) {
	events, err := g.service.Events(ctx, caller, req.Game, req.Limit)
	if err != nil {
		return api.EventsResponse{}, err
	}
	return api.NewEventsResponse(events), nil
}

func (g *Gateway) listAudit(ctx context.Context, _ record.AccountID, req api.AuditRequest) (api.AuditResponse, error) {
	f := store.AuditFilter{Limit: req.Limit}
	if req.Actor != "" {
		f.Actor = &req.Actor
	}
	if req.Action != "" {
		action := store.AuditAction(req.Action)
		if !store.IsValidAuditAction(action) {
			return api.AuditResponse{}, fmt.Errorf("%w: unknown audit action %q", errBadRequest, req.Action)
		}
		f.Action = &action
	}
	if req.Game != "" {
		game, err := record.ParseGameID(req.Game)
		if err != nil {
			return api.AuditResponse{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		f.Game = &game
	}
	entries, err := g.service.Audit(ctx, f)
	if err != nil {
		return api.AuditResponse{}, err
	}
	return api.NewAuditResponse(entries), nil
}
