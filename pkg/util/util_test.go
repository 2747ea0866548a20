package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/mirrors/ubuntu")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mirrors", "ubuntu"), got)

	got, err = ExpandPath("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandPath("/srv/mirrors")
	require.NoError(t, err)
	assert.Equal(t, "/srv/mirrors", got)

	got, err = ExpandPath("~other/mirrors")
	require.NoError(t, err)
	assert.Equal(t, "~other/mirrors", got, "only the current user's home is expanded")
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()

	testCases := []struct {
		name     string
		baseDir  string
		input    string
		expected string
	}{
		{name: "relative to base", baseDir: base, input: "./mirrors/ubuntu", expected: filepath.Join(base, "mirrors", "ubuntu")},
		{name: "parent traversal", baseDir: base, input: "../out", expected: filepath.Join(filepath.Dir(base), "out")},
		{name: "absolute is cleaned", baseDir: base, input: "/srv//mirrors/./debian", expected: "/srv/mirrors/debian"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolvePath(tc.baseDir, tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestEnsureDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Existing directories are fine.
	require.NoError(t, EnsureDir(target))
}

func TestInvertMap(t *testing.T) {
	inv := InvertMap(map[string]int{"a": 1, "b": 2})
	assert.Equal(t, map[int]string{1: "a", 2: "b"}, inv)
}
