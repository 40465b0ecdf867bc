// Package command implements the start and stop operations the build
// pipeline invokes around its integration-test phase.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/NeoGridBR/minicluster/internal/classpath"
	"github.com/NeoGridBR/minicluster/internal/cluster"
	"github.com/NeoGridBR/minicluster/internal/conf"
	"github.com/NeoGridBR/minicluster/internal/fixture"
)

// DefaultSiteFile is the conventional location of the generated cluster
// configuration, inside the build-output test resources directory.
const DefaultSiteFile = "target/test-classes/minicluster-site.properties"

// shared is the one handle per process, wired to the real cluster. It is
// created lazily so tests never pay for it.
var shared = sync.OnceValue(func() *fixture.Handle {
	return fixture.New(clusterLauncher{})
})

// Shared returns the process-wide cluster handle.
func Shared() *fixture.Handle {
	return shared()
}

// clusterLauncher adapts cluster.Start to the handle's Launcher contract.
type clusterLauncher struct{}

func (clusterLauncher) Launch(ctx context.Context, computeEnabled bool, overrides *conf.Map) (fixture.Service, *conf.Map, error) {
	c, err := cluster.Start(ctx, cluster.Config{
		ComputeEnabled: computeEnabled,
		Overrides:      overrides,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, c.Effective(), nil
}

// StartOptions collects the inputs of the start operation. ProjectPaths and
// PluginArtifacts are resolved by the surrounding build tool and arrive
// here already validated.
type StartOptions struct {
	// SiteFile is where the effective configuration is written. Required.
	SiteFile string
	// ComputeEnabled also starts the secondary compute service.
	ComputeEnabled bool
	// Overrides are applied to the cluster configuration before launch.
	// Nil means none.
	Overrides *conf.Map
	// ProjectPaths is the consuming project's resolved test classpath.
	ProjectPaths []string
	// PluginArtifacts are this tool's own dependency artifacts.
	PluginArtifacts []classpath.Artifact
}

// Runner binds the operations to a handle. Production code uses
// Runner{Handle: Shared()}; tests inject a handle with a double launcher.
type Runner struct {
	Handle *fixture.Handle
}

// Start brings the shared cluster up and records how to reach it.
//
// Each step is a hard precondition for the next: publish the composed
// classpath, launch and wait for readiness, create the site-file directory,
// write the site file. A failure anywhere aborts; in particular no site
// file is ever written for a cluster that did not reach readiness.
func (r Runner) Start(ctx context.Context, opts StartOptions) error {
	composed := classpath.Compose(
		os.Getenv(classpath.EnvVar),
		opts.ProjectPaths,
		classpath.Files(opts.PluginArtifacts),
	)
	if err := classpath.Publish(composed); err != nil {
		return err
	}
	slog.InfoContext(ctx, "published child process classpath",
		"var", classpath.EnvVar, "entries", len(opts.ProjectPaths)+len(opts.PluginArtifacts))

	base := conf.New()
	base.Merge(opts.Overrides)

	effective, err := r.Handle.Start(ctx, opts.ComputeEnabled, base)
	if err != nil {
		return err
	}

	dir := filepath.Dir(opts.SiteFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating site file directory %s: %w", dir, err)
	}
	if err := effective.WriteFile(opts.SiteFile); err != nil {
		return err
	}

	slog.InfoContext(ctx, "wrote cluster site file", "path", opts.SiteFile)
	return nil
}

// Stop tears the shared cluster down. Stopping a cluster that never
// started is a silent success: a build step calling stop must not fail
// just because an earlier phase skipped start.
func (r Runner) Stop(ctx context.Context) {
	r.Handle.Stop()
	slog.DebugContext(ctx, "cluster stop completed", "state", r.Handle.CurrentState().String())
}
