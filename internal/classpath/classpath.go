// Package classpath builds the runtime classpath child processes of the
// mini cluster inherit.
//
// The build tool only puts its own launcher jar on the real classpath and
// class-loads the rest itself. Any process the cluster spawns gets a plain
// JVM-style lookup instead, so the full dependency list has to be flattened
// into a single ordered path string and published through the environment.
// Ordering matters: entries already on the launching process's classpath are
// never shadowed, and the consuming project's dependencies come before this
// tool's own, so a project can override a version this tool also carries
// (first occurrence wins for a downstream class loader).
package classpath

import (
	"fmt"
	"os"
	"strings"
)

// Separator delimits entries of a composed path list. This is the JVM
// classpath convention, not the host platform's list separator.
const Separator = ":"

// EnvVar is the process-wide environment variable the composed classpath is
// published under. Child processes spawned by the cluster read it to
// reconstruct their own classpath.
const EnvVar = "CLASSPATH"

// Artifact is a resolved dependency artifact supplied by the build tool.
type Artifact interface {
	// File returns the filesystem path of the artifact.
	File() string
}

// PathArtifact adapts a plain filesystem path to the Artifact interface.
type PathArtifact string

func (p PathArtifact) File() string { return string(p) }

// Files flattens artifacts into their filesystem paths, keeping order.
func Files(artifacts []Artifact) []string {
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.File())
	}
	return paths
}

// Compose merges three ordered dependency sources into one duplicate-free
// classpath string.
//
// The existing classpath is kept verbatim at the front, internal duplicates
// included. Project paths and then plugin paths are appended in order,
// skipping any entry already contributed by an earlier source. An empty
// existing classpath never produces a leading separator.
func Compose(existing string, projectPaths, pluginPaths []string) string {
	seen := make(map[string]struct{})
	for _, component := range strings.Split(existing, Separator) {
		if component == "" {
			continue
		}
		seen[component] = struct{}{}
	}

	var b strings.Builder
	b.WriteString(existing)

	appendUnseen := func(paths []string) {
		for _, path := range paths {
			if _, ok := seen[path]; ok {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(Separator)
			}
			b.WriteString(path)
			seen[path] = struct{}{}
		}
	}
	appendUnseen(projectPaths)
	appendUnseen(pluginPaths)

	return b.String()
}

// Publish makes value visible to any process spawned from this one.
func Publish(value string) error {
	if err := os.Setenv(EnvVar, value); err != nil {
		return fmt.Errorf("setting %s: %w", EnvVar, err)
	}
	return nil
}
