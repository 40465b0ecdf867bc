package cluster

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// kvRouter serves the key/value API plus the health and metrics endpoints.
func (c *Cluster) kvRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(500))
	health.AddReadinessCheck("kv-listener",
		healthcheck.TCPDialCheck(c.kvLn.Addr().String(), time.Second))
	if c.computeLn != nil {
		health.AddReadinessCheck("compute-listener",
			healthcheck.TCPDialCheck(c.computeLn.Addr().String(), time.Second))
	}
	r.Get("/live", health.LiveEndpoint)
	r.Get("/ready", health.ReadyEndpoint)

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(c.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/kv/{key}", func(r chi.Router) {
		r.Get("/", c.handleGet)
		r.Put("/", c.handlePut)
		r.Delete("/", c.handleDelete)
	})

	return r
}

func (c *Cluster) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	c.metrics.kvOps.WithLabelValues("get").Inc()

	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		http.Error(w, "key not found", http.StatusNotFound)
	case err != nil:
		slog.ErrorContext(r.Context(), "kv get failed", "key", key, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(value)
	}
}

func (c *Cluster) handlePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	c.metrics.kvOps.WithLabelValues("put").Inc()

	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "kv put failed", "key", key, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Cluster) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	c.metrics.kvOps.WithLabelValues("delete").Inc()

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "kv delete failed", "key", key, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
