package minicluster_test

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/magiconair/properties"
	"github.com/stretchr/testify/require"
)

// End to end test of the built binary. Build it first:
//
//	go build -o minicluster-ci ./cmd/minicluster/
var binaryPath string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	var err error
	binaryPath, err = filepath.Abs("minicluster-ci")
	if err != nil {
		slog.Error("can't get abspath for minicluster-ci", "error", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func requireBinary(t *testing.T) {
	t.Helper()
	info, err := os.Stat(binaryPath)
	if err != nil || info.Mode()&0o111 == 0 {
		t.Skip("minicluster-ci binary not built, run go build -o minicluster-ci ./cmd/minicluster/ first")
	}
}

func TestVersion(t *testing.T) {
	requireBinary(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, binaryPath, "version")
	cmd.Stdout = &stdout
	require.NoError(t, cmd.Run())
	require.Contains(t, stdout.String(), "minicluster:")
}

// stop in a fresh process never started anything, it must still exit 0
func TestStopWithoutStartSucceeds(t *testing.T) {
	requireBinary(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	cmd := exec.CommandContext(ctx, binaryPath, "stop")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
	}
	require.NoError(t, err)
}

func TestStartWritesSiteFileAndStopsOnSignal(t *testing.T) {
	requireBinary(t)

	dir := t.TempDir()
	siteFile := filepath.Join(dir, "test-classes", "minicluster-site.properties")

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binaryPath,
		"start",
		"--site-file", siteFile,
		"--conf", "test.marker=e2e",
		"--project-path", "/project/classes",
	)
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Start())

	// the site file appears only once the cluster is ready
	var raw []byte
	require.Eventually(t, func() bool {
		var err error
		raw, err = os.ReadFile(siteFile)
		return err == nil && len(raw) > 0
	}, 60*time.Second, 200*time.Millisecond, "site file was not written")

	p, err := properties.Load(raw, properties.UTF8)
	require.NoError(t, err)
	require.NotEmpty(t, p.GetString("minicluster.kv.addr", ""))
	require.NotEmpty(t, p.GetString("minicluster.instance.id", ""))
	require.Equal(t, "e2e", p.GetString("test.marker", ""))

	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))
	err = cmd.Wait()
	if err != nil {
		t.Logf("%s", stderr.String())
	}
	require.NoError(t, err)
}
