// ABOUTME: HTTP JSON API handlers for the save-data service
// ABOUTME: Parses path and body into api documents and renders results or mapped errors

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/record"
)

// maxBodyBytes bounds request bodies; a full entry is well under 1 KiB.
const maxBodyBytes = 64 << 10

// registerAPIRoutes registers the /api routes on mux behind authMiddleware.
// Handlers rely on the middleware having put a Caller in the context.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	h := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(fn))
	}

	// Game lifecycle and authorities
	h("POST /api/games", handle(g, http.StatusCreated, parseRegisterGame, g.registerGame))
	h("POST /api/games/{game}/authorities", handle(g, http.StatusCreated, parseAddAuthority, g.addAuthority))
	h("DELETE /api/games/{game}/authorities/{account}", handle(g, http.StatusOK, parseRemoveAuthority, g.removeAuthority))
	h("GET /api/accounts/{account}/permissions", handle(g, http.StatusOK, parsePermissions, g.getPermissions))

	// World records
	h("GET /api/games/{game}/world/{route}", handle(g, http.StatusOK, parseRecord, g.getRecord))
	h("GET /api/games/{game}/world/{route}/{key...}", g.handleGetEntry)
	h("PUT /api/games/{game}/world/{route}", handle(g, http.StatusOK, parseUpdate, g.updateRecord))
	h("PATCH /api/games/{game}/world/{route}", handle(g, http.StatusOK, parseMod, g.modRecord))
	h("DELETE /api/games/{game}/world/{route}/{key...}", handle(g, http.StatusOK, parseRemove, g.removeRecord))

	// User records
	h("GET /api/games/{game}/users/{user}/{route}", handle(g, http.StatusOK, parseRecord, g.getRecord))
	h("GET /api/games/{game}/users/{user}/{route}/{key...}", g.handleGetEntry)
	h("PUT /api/games/{game}/users/{user}/{route}", handle(g, http.StatusOK, parseUpdate, g.updateRecord))
	h("DELETE /api/games/{game}/users/{user}/{route}/{key...}", handle(g, http.StatusOK, parseRemove, g.removeRecord))

	// Ledger and audit
	h("GET /api/games/{game}/events", handle(g, http.StatusOK, parseEvents, g.listEvents))
	h("GET /api/games/{game}/events/stream", g.handleEventStream)
	h("GET /api/audit", handle(g, http.StatusOK, parseAudit, g.listAudit))
}

// handle adapts a transport-neutral operation to an HTTP handler.
func handle[Req, Resp any](
	g *Gateway,
	successStatus int,
	parse func(r *http.Request) (Req, error),
	op func(ctx context.Context, caller record.AccountID, req Req) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := auth.MustCallerFromContext(r.Context())

		req, err := parse(r)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err)
			return
		}

		resp, err := op(r.Context(), caller.Account, req)
		if err != nil {
			g.sendServiceError(w, r, err)
			return
		}
		g.sendJSON(w, successStatus, resp)
	}
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, err error) {
	g.sendJSON(w, status, api.ErrorResponse{Error: publicMessage(err), Kind: errorKind(err)})
}

// sendServiceError maps a service error to its status and logs server faults.
func (g *Gateway) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, err)
}

// decodeBody decodes a JSON body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func pathGame(r *http.Request) (record.GameID, error) {
	game, err := record.ParseGameID(r.PathValue("game"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return game, nil
}

func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", errBadRequest, s)
	}
	return n, nil
}

func parseRegisterGame(r *http.Request) (api.RegisterGameRequest, error) {
	var req api.RegisterGameRequest
	return req, decodeBody(r, &req)
}

func parseAddAuthority(r *http.Request) (api.AuthorityRequest, error) {
	game, err := pathGame(r)
	if err != nil {
		return api.AuthorityRequest{}, err
	}
	var body struct {
		Account record.AccountID `json:"account"`
		Access  string           `json:"access"`
	}
	if err := decodeBody(r, &body); err != nil {
		return api.AuthorityRequest{}, err
	}
	return api.AuthorityRequest{Game: game, Account: body.Account, Access: body.Access}, nil
}

func parseRemoveAuthority(r *http.Request) (api.AuthorityRequest, error) {
	game, err := pathGame(r)
	if err != nil {
		return api.AuthorityRequest{}, err
	}
	return api.AuthorityRequest{Game: game, Account: record.AccountID(r.PathValue("account"))}, nil
}

func parsePermissions(r *http.Request) (api.PermissionsRequest, error) {
	return api.PermissionsRequest{Account: record.AccountID(r.PathValue("account"))}, nil
}

func parseRecord(r *http.Request) (api.RecordRequest, error) {
	game, err := pathGame(r)
	if err != nil {
		return api.RecordRequest{}, err
	}
	return api.RecordRequest{
		Game:  game,
		User:  record.AccountID(r.PathValue("user")),
		Route: r.PathValue("route"),
	}, nil
}

func parseUpdate(r *http.Request) (api.UpdateRequest, error) {
	rr, err := parseRecord(r)
	if err != nil {
		return api.UpdateRequest{}, err
	}
	var entry api.Entry
	if err := decodeBody(r, &entry); err != nil {
		return api.UpdateRequest{}, err
	}
	return api.UpdateRequest{Game: rr.Game, User: rr.User, Route: rr.Route, Entry: entry}, nil
}

func parseRemove(r *http.Request) (api.RemoveRequest, error) {
	rr, err := parseRecord(r)
	if err != nil {
		return api.RemoveRequest{}, err
	}
	return api.RemoveRequest{
		Game:        rr.Game,
		User:        rr.User,
		Route:       rr.Route,
		Key:         r.PathValue("key"),
		KeyEncoding: r.URL.Query().Get("key_encoding"),
	}, nil
}

func parseMod(r *http.Request) (api.ModRequest, error) {
	rr, err := parseRecord(r)
	if err != nil {
		return api.ModRequest{}, err
	}
	var body struct {
		Key         string `json:"key"`
		KeyEncoding string `json:"key_encoding"`
		Delta       *int32 `json:"delta"`
		Value       string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		return api.ModRequest{}, err
	}
	return api.ModRequest{
		Game:        rr.Game,
		Route:       rr.Route,
		Key:         body.Key,
		KeyEncoding: body.KeyEncoding,
		Delta:       body.Delta,
		Value:       body.Value,
	}, nil
}

func parseEvents(r *http.Request) (api.EventsRequest, error) {
	game, err := pathGame(r)
	if err != nil {
		return api.EventsRequest{}, err
	}
	limit, err := queryLimit(r)
	if err != nil {
		return api.EventsRequest{}, err
	}
	return api.EventsRequest{Game: game, Limit: limit}, nil
}

func parseAudit(r *http.Request) (api.AuditRequest, error) {
	limit, err := queryLimit(r)
	if err != nil {
		return api.AuditRequest{}, err
	}
	q := r.URL.Query()
	return api.AuditRequest{
		Actor:  record.AccountID(q.Get("actor")),
		Action: q.Get("action"),
		Game:   q.Get("game"),
		Limit:  limit,
	}, nil
}

// handleGetEntry handles GET .../{route}/{key}: one entry of a record.
func (g *Gateway) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustCallerFromContext(r.Context())

	req, err := parseRecord(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err)
		return
	}
	key, err := decodeKey(r.PathValue("key"), r.URL.Query().Get("key_encoding"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := g.getRecord(r.Context(), caller.Account, req)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	for _, e := range resp.Entries {
		if stored, err := e.DataEntry(); err == nil && string(stored.Key) == string(key) {
			g.sendJSON(w, http.StatusOK, e)
			return
		}
	}
	g.sendServiceError(w, r, fmt.Errorf("key %q: %w", key, record.ErrNotFound))
}
