package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthServer serves /healthz (liveness) and /metrics (Prometheus
// scrape target) on the workspace's configured health port.
type HealthServer struct {
	srv *http.Server
	ln  net.Listener
}

// StatusFunc reports whatever a caller wants surfaced at /healthz,
// e.g. agent counts or router connectivity.
type StatusFunc func() map[string]any

// StartHealthServer binds port and serves until Close is called.
// Binding failures are the caller's problem to log and ignore; a
// workspace without a free health port still runs agents fine.
func StartHealthServer(port int, status StatusFunc) (*HealthServer, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{"ok": true}
		if status != nil {
			for k, v := range status() {
				body[k] = v
			}
		}
		json.NewEncoder(w).Encode(body)
	})

	srv := &http.Server{Handler: mux}
	hs := &HealthServer{srv: srv, ln: ln}
	go srv.Serve(ln)
	return hs, nil
}

// Addr returns the bound listen address.
func (h *HealthServer) Addr() net.Addr { return h.ln.Addr() }

// Close shuts the server down.
func (h *HealthServer) Close() error {
	return h.srv.Shutdown(context.Background())
}
