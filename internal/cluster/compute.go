package cluster

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Job is a unit of work submitted to the compute service. Jobs run against
// the cluster's own key/value store.
type Job struct {
	// Op is "count" or "scan".
	Op string `json:"op"`
	// Prefix restricts the job to keys with this prefix. Empty means all.
	Prefix string `json:"prefix,omitempty"`
	// Limit caps the number of keys a scan returns. 0 means no cap.
	Limit int `json:"limit,omitempty"`
}

// JobResult is the compute service response for a finished job.
type JobResult struct {
	Op    string   `json:"op"`
	Count int      `json:"count"`
	Keys  []string `json:"keys,omitempty"`
}

func (c *Cluster) computeRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Post("/jobs", c.handleJob)
	return r
}

type jobOutcome struct {
	result JobResult
	err    error
}

func (c *Cluster) handleJob(w http.ResponseWriter, r *http.Request) {
	var job Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "decoding job: "+err.Error(), http.StatusBadRequest)
		return
	}
	if job.Op != "count" && job.Op != "scan" {
		http.Error(w, fmt.Sprintf("unsupported job op %q", job.Op), http.StatusBadRequest)
		return
	}
	c.metrics.jobs.Inc()

	outcome := make(chan jobOutcome, 1)
	err := c.pool.Submit(func() {
		result, err := c.runJob(job)
		outcome <- jobOutcome{result: result, err: err}
	})
	if err != nil {
		http.Error(w, "submitting job: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, r.Context().Err().Error(), http.StatusRequestTimeout)
	case o := <-outcome:
		if o.err != nil {
			http.Error(w, o.err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, o.result)
	}
}

func (c *Cluster) runJob(job Job) (JobResult, error) {
	result := JobResult{Op: job.Op}
	prefix := []byte(job.Prefix)

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			result.Count++
			if job.Op == "scan" {
				if job.Limit > 0 && len(result.Keys) >= job.Limit {
					continue
				}
				result.Keys = append(result.Keys, string(it.Item().KeyCopy(nil)))
			}
		}
		return nil
	})
	if err != nil {
		return JobResult{}, fmt.Errorf("running %s job: %w", job.Op, err)
	}
	return result, nil
}
