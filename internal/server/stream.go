package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"shopfloor/internal/hub"
)

const streamKeepAlive = 15 * time.Second

// registerStream serves live notifications over server-sent events. Each
// connection gets its own hub subscription; a slow reader overflows its buffer
// and is disconnected rather than stalling publishers.
func registerStream(r chi.Router, basePath string, h *hub.Hub) {
	if h == nil {
		return
	}
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		scope := hub.Scope(req.URL.Query().Get("scope"))
		switch scope {
		case hub.ScopeOrders, hub.ScopeResources, hub.ScopeAll, "":
		default:
			http.Error(w, "invalid scope", http.StatusBadRequest)
			return
		}
		sub := h.Subscribe(scope)
		defer sub.Unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-req.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case n, open := <-sub.C():
				if !open {
					// Buffer overflowed; tell the client before closing.
					fmt.Fprint(w, "event: error\ndata: {\"code\":\"overflow\"}\n\n")
					flusher.Flush()
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, data)
				flusher.Flush()
			}
		}
	})
}
