package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gadgetgrid/internal/persistence/indexdb"
	"gadgetgrid/internal/session"
	"gadgetgrid/internal/transport/observer"
	"gadgetgrid/internal/transport/ws"
)

type routerConfig struct {
	Session        *session.Session
	Index          *indexdb.SQLiteIndex
	WS             *ws.Server
	Observer       *observer.Server
	Registry       *prometheus.Registry
	AllowedOrigins []string
	EnableAdmin    bool
	Logger         *log.Logger
}

func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: cfg.Logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	r.Get("/v1/ws", cfg.WS.Handler())

	if !cfg.EnableAdmin {
		cfg.Logger.Printf("admin endpoints disabled (GG_ENABLE_ADMIN_HTTP=false)")
		return r
	}
	// Local-only admin endpoints.
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(loopbackOnly)
		r.Get("/state", func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, cfg.Session.Latest())
		})
		r.Post("/save", func(rw http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			st, err := cfg.Session.Save(ctx, 0)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "step": st.Step, "path": st.SavedPath})
		})
		r.Get("/saves", func(rw http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit <= 0 || limit > 1000 {
				limit = 50
			}
			saves, err := cfg.Index.ListSaves(r.Context(), cfg.Session.PuzzleID(), limit)
			if err != nil {
				writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			if saves == nil {
				saves = []indexdb.SaveRecord{}
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "saves": saves})
		})
		if cfg.Observer != nil {
			r.Get("/observer/bootstrap", cfg.Observer.BootstrapHandler())
			r.Get("/observer/ws", cfg.Observer.WSHandler())
		}
	})
	return r
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
