package command_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/NeoGridBR/minicluster/internal/classpath"
	"github.com/NeoGridBR/minicluster/internal/command"
	"github.com/NeoGridBR/minicluster/internal/conf"
	"github.com/NeoGridBR/minicluster/internal/fixture"

	"github.com/magiconair/properties"
	"github.com/stretchr/testify/require"
)

type stubService struct{}

func (stubService) Stop(context.Context) error { return nil }

// stubLauncher hands back a canned effective configuration, echoing the
// overrides it received.
type stubLauncher struct {
	launches int
	fail     error
	got      *conf.Map
}

func (l *stubLauncher) Launch(_ context.Context, computeEnabled bool, overrides *conf.Map) (fixture.Service, *conf.Map, error) {
	l.launches++
	l.got = overrides
	if l.fail != nil {
		return nil, nil, l.fail
	}
	eff := conf.New()
	eff.Merge(overrides)
	eff.Set("minicluster.kv.addr", "127.0.0.1:50000")
	if computeEnabled {
		eff.Set("minicluster.compute.addr", "127.0.0.1:50001")
	}
	return stubService{}, eff, nil
}

func TestStartWritesSiteFile(t *testing.T) {
	t.Setenv(classpath.EnvVar, "/existing/launcher.jar")

	launcher := &stubLauncher{}
	runner := command.Runner{Handle: fixture.New(launcher)}

	siteFile := filepath.Join(t.TempDir(), "test-classes", "minicluster-site.properties")
	overrides := conf.FromPairs([]conf.Pair{{Key: "fs.replication", Value: "1"}})

	err := runner.Start(context.Background(), command.StartOptions{
		SiteFile:       siteFile,
		ComputeEnabled: true,
		Overrides:      overrides,
		ProjectPaths:   []string{"/project/classes", "/existing/launcher.jar"},
		PluginArtifacts: []classpath.Artifact{
			classpath.PathArtifact("/repo/plugin-dep.jar"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, launcher.launches)

	// classpath published, de-duplicated, in source order
	require.Equal(t,
		"/existing/launcher.jar:/project/classes:/repo/plugin-dep.jar",
		os.Getenv(classpath.EnvVar))

	// overrides reached the launcher
	v, ok := launcher.got.Get("fs.replication")
	require.True(t, ok)
	require.Equal(t, "1", v)

	// the site file reflects the effective configuration at readiness
	raw, err := os.ReadFile(siteFile)
	require.NoError(t, err)
	p, err := properties.Load(raw, properties.UTF8)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:50000", p.GetString("minicluster.kv.addr", ""))
	require.Equal(t, "127.0.0.1:50001", p.GetString("minicluster.compute.addr", ""))
	require.Equal(t, "1", p.GetString("fs.replication", ""))

	runner.Stop(context.Background())
}

func TestStartFailurePreventsSiteFile(t *testing.T) {
	t.Setenv(classpath.EnvVar, "")

	cause := errors.New("no ports left")
	launcher := &stubLauncher{fail: cause}
	runner := command.Runner{Handle: fixture.New(launcher)}

	siteFile := filepath.Join(t.TempDir(), "out", "site.properties")
	err := runner.Start(context.Background(), command.StartOptions{SiteFile: siteFile})
	require.ErrorIs(t, err, cause)

	_, statErr := os.Stat(siteFile)
	require.True(t, os.IsNotExist(statErr))
}

func TestStartDirCreationFailure(t *testing.T) {
	t.Setenv(classpath.EnvVar, "")

	// a regular file where the parent directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	launcher := &stubLauncher{}
	runner := command.Runner{Handle: fixture.New(launcher)}

	siteFile := filepath.Join(blocker, "sub", "site.properties")
	err := runner.Start(context.Background(), command.StartOptions{SiteFile: siteFile})
	require.Error(t, err)
	require.Contains(t, err.Error(), "creating site file directory")

	_, statErr := os.Stat(siteFile)
	require.Error(t, statErr)
	runner.Stop(context.Background())
}

func TestStopNeverFails(t *testing.T) {
	runner := command.Runner{Handle: fixture.New(&stubLauncher{})}
	// no start happened, stop must succeed silently
	runner.Stop(context.Background())
	runner.Stop(context.Background())
}

func TestSharedHandleIsSingleton(t *testing.T) {
	require.Same(t, command.Shared(), command.Shared())
}
