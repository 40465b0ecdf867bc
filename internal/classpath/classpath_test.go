package classpath_test

import (
	"os"
	"strings"
	"testing"

	"github.com/NeoGridBR/minicluster/internal/classpath"

	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		existing string
		project  []string
		plugin   []string
		want     string
	}{
		{
			name:     "overlap across all sources",
			existing: "/a:/b",
			project:  []string{"/b", "/c"},
			plugin:   []string{"/c", "/d"},
			want:     "/a:/b:/c:/d",
		},
		{
			name:     "empty existing has no leading separator",
			existing: "",
			project:  []string{"/x"},
			plugin:   nil,
			want:     "/x",
		},
		{
			name:     "everything empty",
			existing: "",
			project:  nil,
			plugin:   nil,
			want:     "",
		},
		{
			name:     "existing duplicates are preserved verbatim",
			existing: "/a:/a:/b",
			project:  []string{"/a", "/c"},
			plugin:   []string{"/b"},
			want:     "/a:/a:/b:/c",
		},
		{
			name:     "project wins over plugin on shared entry",
			existing: "/base",
			project:  []string{"/override/dep-2.0.jar"},
			plugin:   []string{"/override/dep-2.0.jar", "/plugin/extra.jar"},
			want:     "/base:/override/dep-2.0.jar:/plugin/extra.jar",
		},
		{
			name:     "plugin only",
			existing: "",
			project:  nil,
			plugin:   []string{"/p1", "/p2"},
			want:     "/p1:/p2",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classpath.Compose(tc.existing, tc.project, tc.plugin)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestComposeFirstOccurrenceOrder(t *testing.T) {
	t.Parallel()
	existing := "/e1:/e2"
	project := []string{"/p1", "/e1", "/p2"}
	plugin := []string{"/p2", "/g1"}

	got := classpath.Compose(existing, project, plugin)
	components := strings.Split(got, classpath.Separator)
	require.Equal(t, []string{"/e1", "/e2", "/p1", "/p2", "/g1"}, components)

	// every appended component appears exactly once
	seen := map[string]int{}
	for _, c := range components {
		seen[c]++
	}
	for c, n := range seen {
		require.Equal(t, 1, n, "component %q duplicated", c)
	}
}

func TestFiles(t *testing.T) {
	t.Parallel()
	artifacts := []classpath.Artifact{
		classpath.PathArtifact("/repo/a-1.0.jar"),
		classpath.PathArtifact("/repo/b-2.1.jar"),
	}
	require.Equal(t, []string{"/repo/a-1.0.jar", "/repo/b-2.1.jar"}, classpath.Files(artifacts))
}

func TestPublish(t *testing.T) {
	t.Setenv(classpath.EnvVar, "")
	err := classpath.Publish("/a:/b")
	require.NoError(t, err)
	require.Equal(t, "/a:/b", os.Getenv(classpath.EnvVar))
}
