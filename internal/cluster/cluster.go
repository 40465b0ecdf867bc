// Package cluster implements the embedded storage+compute mini cluster the
// build pipeline shares across integration tests.
//
// The cluster is a single in-process fixture: a key/value store backed by an
// embedded Badger database behind an HTTP control surface, plus an optional
// compute service running jobs on a worker pool. Every listener binds a
// dynamic port; the effective addresses are reported through the
// configuration mapping once the cluster is ready.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/NeoGridBR/minicluster/internal/conf"

	"github.com/cenkalti/backoff/v4"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

// Configuration keys of the effective cluster configuration. Consumers read
// these from the generated site file to connect.
const (
	KeyInstanceID  = "minicluster.instance.id"
	KeyDataDir     = "minicluster.data.dir"
	KeyKVAddr      = "minicluster.kv.addr"
	KeyComputeAddr = "minicluster.compute.addr"

	// override keys honored at launch
	KeyBindHost       = "minicluster.bind.host"
	KeyComputeWorkers = "minicluster.compute.workers"
)

const (
	defaultBindHost       = "127.0.0.1"
	defaultComputeWorkers = 4
	shutdownTimeout       = 10 * time.Second
	readinessMaxElapsed   = 30 * time.Second
)

// Config describes how to launch a cluster. The zero value is usable: a
// unique data directory is created under the system temp directory and
// removed again on Stop.
type Config struct {
	DataDir        string
	BindHost       string
	ComputeEnabled bool
	ComputeWorkers int

	// Overrides are merged into the effective configuration before launch,
	// later entries overwriting earlier ones. Known override keys also steer
	// the launch itself.
	Overrides *conf.Map
}

// Cluster is a running mini cluster. Obtain one via Start, tear it down via
// Stop. All exported methods are safe after Start returned.
type Cluster struct {
	id  string
	cfg Config

	db      *badger.DB
	pool    *ants.Pool
	metrics *metrics

	kvLn       net.Listener
	computeLn  net.Listener
	kvSrv      *http.Server
	computeSrv *http.Server

	effective   *conf.Map
	ownsDataDir bool
	servers     errgroup.Group
}

// Start launches the cluster and blocks until every sub-component accepts
// connections. On failure everything already opened is released and the
// error carries the underlying cause.
func Start(ctx context.Context, cfg Config) (c *Cluster, err error) {
	applyOverrides(&cfg)

	c = &Cluster{id: uuid.NewString(), cfg: cfg, metrics: newMetrics()}
	defer func() {
		if err != nil {
			c.release()
		}
	}()

	if c.cfg.DataDir == "" {
		c.cfg.DataDir = filepath.Join(os.TempDir(), "minicluster-"+c.id)
		c.ownsDataDir = true
	}
	if err = os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", c.cfg.DataDir, err)
	}

	opts := badger.DefaultOptions(c.cfg.DataDir).WithLogger(nil)
	c.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %w", c.cfg.DataDir, err)
	}

	c.kvLn, err = net.Listen("tcp", net.JoinHostPort(c.cfg.BindHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("binding kv listener: %w", err)
	}

	if c.cfg.ComputeEnabled {
		c.pool, err = ants.NewPool(c.cfg.ComputeWorkers)
		if err != nil {
			return nil, fmt.Errorf("creating compute pool: %w", err)
		}
		c.computeLn, err = net.Listen("tcp", net.JoinHostPort(c.cfg.BindHost, "0"))
		if err != nil {
			return nil, fmt.Errorf("binding compute listener: %w", err)
		}
	}

	c.kvSrv = &http.Server{Handler: c.kvRouter()}
	c.serve(c.kvSrv, c.kvLn)
	if c.cfg.ComputeEnabled {
		c.computeSrv = &http.Server{Handler: c.computeRouter()}
		c.serve(c.computeSrv, c.computeLn)
	}

	if err = c.waitReady(ctx); err != nil {
		c.shutdownServers()
		return nil, err
	}

	c.effective = c.effectiveConf()
	slog.InfoContext(ctx, "mini cluster ready",
		"instance_id", c.id,
		"kv_addr", c.kvLn.Addr().String(),
		"compute", c.cfg.ComputeEnabled,
		"data_dir", c.cfg.DataDir,
	)
	return c, nil
}

// applyOverrides folds the known override keys into cfg and fills defaults.
func applyOverrides(cfg *Config) {
	if cfg.Overrides != nil {
		if host, ok := cfg.Overrides.Get(KeyBindHost); ok && cfg.BindHost == "" {
			cfg.BindHost = host
		}
		if dir, ok := cfg.Overrides.Get(KeyDataDir); ok && cfg.DataDir == "" {
			cfg.DataDir = dir
		}
		if raw, ok := cfg.Overrides.Get(KeyComputeWorkers); ok && cfg.ComputeWorkers == 0 {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				cfg.ComputeWorkers = n
			}
		}
	}
	if cfg.BindHost == "" {
		cfg.BindHost = defaultBindHost
	}
	if cfg.ComputeWorkers <= 0 {
		cfg.ComputeWorkers = defaultComputeWorkers
	}
}

func (c *Cluster) serve(srv *http.Server, ln net.Listener) {
	c.servers.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
}

// waitReady probes every bound address until it accepts connections. The
// backoff gives up after readinessMaxElapsed, failing the start.
func (c *Cluster) waitReady(ctx context.Context) error {
	addrs := []string{c.kvLn.Addr().String()}
	if c.computeLn != nil {
		addrs = append(addrs, c.computeLn.Addr().String())
	}
	for _, addr := range addrs {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 10 * time.Millisecond
		bo.MaxElapsedTime = readinessMaxElapsed
		dial := func() error {
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				return err
			}
			return conn.Close()
		}
		if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
			return fmt.Errorf("waiting for %s to accept connections: %w", addr, err)
		}
	}
	return nil
}

// effectiveConf builds the fully populated configuration: pass-through
// overrides first, then the runtime values the cluster bound dynamically.
// The runtime values always win.
func (c *Cluster) effectiveConf() *conf.Map {
	m := conf.New()
	m.Merge(c.cfg.Overrides)
	m.Set(KeyInstanceID, c.id)
	m.Set(KeyDataDir, c.cfg.DataDir)
	m.Set(KeyKVAddr, c.kvLn.Addr().String())
	if c.computeLn != nil {
		m.Set(KeyComputeAddr, c.computeLn.Addr().String())
	}
	return m
}

// Effective returns the configuration captured at readiness, including every
// dynamically bound address.
func (c *Cluster) Effective() *conf.Map {
	return c.effective
}

// KVAddr returns the address of the key/value control surface.
func (c *Cluster) KVAddr() string {
	return c.kvLn.Addr().String()
}

// ComputeAddr returns the compute service address, or "" when the compute
// service is disabled.
func (c *Cluster) ComputeAddr() string {
	if c.computeLn == nil {
		return ""
	}
	return c.computeLn.Addr().String()
}

// shutdownServers is the failed-start counterpart of Stop: drain whatever
// was serving so release can run on quiesced components.
func (c *Cluster) shutdownServers() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if c.computeSrv != nil {
		_ = c.computeSrv.Shutdown(ctx)
	}
	if c.kvSrv != nil {
		_ = c.kvSrv.Shutdown(ctx)
	}
	_ = c.servers.Wait()
}

// Stop shuts the cluster down gracefully: HTTP servers first, then the
// worker pool and the database. The ctx bounds the HTTP drain.
func (c *Cluster) Stop(ctx context.Context) error {
	var errs []error
	if c.computeSrv != nil {
		if err := c.computeSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping compute server: %w", err))
		}
	}
	if c.kvSrv != nil {
		if err := c.kvSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping kv server: %w", err))
		}
	}
	if err := c.servers.Wait(); err != nil {
		errs = append(errs, err)
	}
	c.release()
	return errors.Join(errs...)
}

// release frees everything Start may have opened, in reverse order. Safe on
// a partially started cluster.
func (c *Cluster) release() {
	if c.pool != nil {
		c.pool.Release()
		c.pool = nil
	}
	if c.computeLn != nil && c.computeSrv == nil {
		_ = c.computeLn.Close()
	}
	if c.kvLn != nil && c.kvSrv == nil {
		_ = c.kvLn.Close()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			slog.Error("closing storage", "error", err)
		}
		c.db = nil
	}
	if c.ownsDataDir && c.cfg.DataDir != "" {
		if err := os.RemoveAll(c.cfg.DataDir); err != nil {
			slog.Error("removing data dir", "dir", c.cfg.DataDir, "error", err)
		}
	}
}
