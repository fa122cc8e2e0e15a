// ABOUTME: Server-Sent Events stream of a game's ledger as updates commit
// ABOUTME: Subscribes to the Broadcaster and filters Internal events by the caller's access

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/record"
)

// sseKeepalive is how often an idle stream sends a comment line.
const sseKeepalive = 15 * time.Second

// handleEventStream handles GET /api/games/{game}/events/stream.
// Internal-route events are sent only while the caller can read that
// route; access is checked again for each one, so a revoke takes effect on
// an open stream.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustCallerFromContext(r.Context())
	game, err := pathGame(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	// Fails early on a store error rather than after the 200 is written.
	if _, err := g.service.CanRead(r.Context(), caller.Account, game, record.RouteInternal); err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	events, _ := g.broadcaster.Subscribe(r.Context(), game)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	g.writeSSEEvent(w, "ready", map[string]string{"game": game.String()})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, open := <-events:
			if !open {
				return
			}
			if e.Route == record.RouteInternal {
				allowed, err := g.service.CanRead(r.Context(), caller.Account, game, record.RouteInternal)
				if err != nil {
					g.logger.Error("checking stream access", "error", err, "game", game)
					return
				}
				if !allowed {
					continue
				}
			}
			g.writeSSEEvent(w, string(e.Type), api.FromEvent(e))
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
