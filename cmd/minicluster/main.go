package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/NeoGridBR/minicluster/internal/classpath"
	"github.com/NeoGridBR/minicluster/internal/command"
	"github.com/NeoGridBR/minicluster/internal/conf"
	"github.com/NeoGridBR/minicluster/internal/log"

	"github.com/spf13/cobra"
)

var (
	flagVerbose      bool
	flagSiteFile     string
	flagCompute      bool
	flagConf         []string // ordered key=value overrides
	flagProjectPaths []string
	flagPluginPaths  []string
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	startCmd.Flags().StringVar(&flagSiteFile, "site-file", command.DefaultSiteFile,
		"path the generated cluster configuration is written to")
	startCmd.Flags().BoolVar(&flagCompute, "compute", false,
		"also start the compute service")
	startCmd.Flags().StringArrayVar(&flagConf, "conf", nil,
		"extra cluster configuration as key=value, repeatable, applied in order")
	startCmd.Flags().StringArrayVar(&flagProjectPaths, "project-path", nil,
		"resolved test dependency path of the consuming project, repeatable")
	startCmd.Flags().StringArrayVar(&flagPluginPaths, "plugin-path", nil,
		"dependency artifact path of this tool, repeatable")

	// never print messages, errors are logged below
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		slog.SetDefault(log.New(flagVerbose))
	}

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("minicluster failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "minicluster",
	Short:        "Shared embedded test cluster for build pipelines",
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the shared cluster, write its site file and keep it running until interrupted",
	RunE:  doStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the shared cluster; succeeds even when nothing was started",
	Run:   doStop,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("minicluster: version info not available")
			return
		}
		fmt.Printf("minicluster: %s\n", info.Main.Version)
		fmt.Printf("go:          %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:      %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:        %s\n", s.Value)
			}
		}
	},
}

func doStart(cmd *cobra.Command, _ []string) error {
	overrides, err := parseConf(flagConf)
	if err != nil {
		return err
	}

	artifacts := make([]classpath.Artifact, 0, len(flagPluginPaths))
	for _, p := range flagPluginPaths {
		artifacts = append(artifacts, classpath.PathArtifact(p))
	}

	runner := command.Runner{Handle: command.Shared()}
	err = runner.Start(cmd.Context(), command.StartOptions{
		SiteFile:        flagSiteFile,
		ComputeEnabled:  flagCompute,
		Overrides:       overrides,
		ProjectPaths:    flagProjectPaths,
		PluginArtifacts: artifacts,
	})
	if err != nil {
		return fmt.Errorf("starting mini cluster: %w", err)
	}

	// the cluster lives in this process, keep it running until the build
	// (or the user) tears it down
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	slog.Info("cluster running, send SIGINT or SIGTERM to stop")
	<-ctx.Done()

	runner.Stop(cmd.Context())
	return nil
}

func doStop(cmd *cobra.Command, _ []string) {
	command.Runner{Handle: command.Shared()}.Stop(cmd.Context())
}

// parseConf turns repeated key=value flags into an ordered mapping. Later
// duplicates of a key overwrite earlier ones.
func parseConf(raw []string) (*conf.Map, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m := conf.New()
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed --conf value %q, want key=value", kv)
		}
		m.Set(key, value)
	}
	return m, nil
}
