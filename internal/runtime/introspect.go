package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/widgetbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
)

const (
	defaultIntrospectionPort = 8081
	defaultMetricsPort       = 9090
	shutdownTimeout          = 5 * time.Second
)

// StartIntrospectionServer registers the read-only bindings API when the
// config enables it.
func (rt *Runtime) StartIntrospectionServer() {
	if !rt.Conf.IntrospectionEnabled {
		return
	}

	port := rt.Conf.IntrospectionPort
	if port == 0 {
		port = defaultIntrospectionPort
	}

	rt.RegisterHTTPHandler(port, "/api/bindings", rt.jsonHandler(func() any { return rt.Bindings() }))
	rt.RegisterHTTPHandler(port, "/api/topics", rt.jsonHandler(func() any { return rt.topics.Stats() }))
	rt.RegisterHTTPHandler(port, "/api/services", rt.jsonHandler(func() any { return rt.services.Stats() }))
}

// StartMetricsServer registers the Prometheus endpoint when metrics are on.
func (rt *Runtime) StartMetricsServer() {
	if rt.metrics == nil || !rt.Conf.MetricsEnabled {
		return
	}

	port := rt.Conf.MetricsPort
	if port == 0 {
		port = defaultMetricsPort
	}
	rt.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
}

func (rt *Runtime) jsonHandler(snapshot func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		// Set CORS headers based on configuration
		if len(rt.Conf.IntrospectionCORSAllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			allowedOrigin := rt.getAllowedCORSOrigin(origin)
			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := jsoncodec.Encode(w, snapshot()); err != nil {
			rt.Logger.Error("Failed to encode introspection response", err, loggingpkg.LogFields{"path": r.URL.Path})
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (rt *Runtime) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range rt.Conf.IntrospectionCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with Start.
func (rt *Runtime) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	rt.httpServersMu.Lock()
	defer rt.httpServersMu.Unlock()

	if rt.httpServers == nil {
		rt.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := rt.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		rt.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (rt *Runtime) startHTTPServers() {
	rt.httpServersMu.Lock()
	defer rt.httpServersMu.Unlock()

	for port, mux := range rt.httpServers {
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		rt.servers = append(rt.servers, srv)
		rt.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (rt *Runtime) stopHTTPServers() {
	rt.httpServersMu.Lock()
	servers := rt.servers
	rt.servers = nil
	rt.httpServersMu.Unlock()

	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			rt.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
		cancel()
	}
}
