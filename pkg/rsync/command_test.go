package rsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
)

func baseMirror() config.Mirror {
	return config.Mirror{
		Name:      "ubuntu",
		Upstream:  "rsync://rsync.releases.ubuntu.com/releases/",
		LocalPath: "/srv/mirrors/ubuntu",
	}
}

func TestBuildArgs_Basic(t *testing.T) {
	args := BuildArgs(baseMirror(), false)

	assert.Equal(t, []string{
		"rsync", "-avz", "--delete", "--stats", "--human-readable", "--hard-links",
		"rsync://rsync.releases.ubuntu.com/releases/", "/srv/mirrors/ubuntu",
	}, args)
}

func TestBuildArgs_BWLimitAndDryRun(t *testing.T) {
	m := baseMirror()
	m.BWLimit = "5m"

	args := BuildArgs(m, true)

	assert.Contains(t, args, "--bwlimit=5m")
	assert.Contains(t, args, "--dry-run")
	n := len(args)
	assert.Equal(t, "--dry-run", args[n-3], "dry-run must precede the positional arguments")
	assert.Equal(t, m.Upstream, args[n-2])
	assert.Equal(t, m.LocalPath, args[n-1])

	assert.NotContains(t, BuildArgs(m, false), "--dry-run")
}

func TestBuildArgs_CustomBinary(t *testing.T) {
	args := Builder{Binary: "/opt/bin/rsync"}.Build(baseMirror(), false)
	assert.Equal(t, "/opt/bin/rsync", args[0])
}

func TestBuildArgs_Idempotent(t *testing.T) {
	m := baseMirror()
	m.BWLimit = "10000"
	m.Include = []string{"dists/stable/Release", "pool/main/**", "*.txt"}

	first := BuildArgs(m, true)
	second := BuildArgs(m, true)
	assert.Equal(t, first, second)
}

func TestFilterRules(t *testing.T) {
	tests := []struct {
		name     string
		include  []string
		exclude  []string
		expected []string
	}{
		{
			name:     "no patterns",
			expected: []string{},
		},
		{
			name:     "exclude only keeps order",
			exclude:  []string{"*.iso", "tmp/", "*.log"},
			expected: []string{"--exclude=*.iso", "--exclude=tmp/", "--exclude=*.log"},
		},
		{
			name:     "include without directories",
			include:  []string{"*.txt"},
			expected: []string{"--include=*.txt", "--exclude=*"},
		},
		{
			name:    "nested include allow-lists every ancestor",
			include: []string{"dists/stable/main/Release"},
			expected: []string{
				"--include=dists/",
				"--include=dists/stable/",
				"--include=dists/stable/main/",
				"--include=dists/stable/main/Release",
				"--exclude=*",
			},
		},
		{
			name:    "shared ancestors are deduplicated in first-seen order",
			include: []string{"dists/stable/Release", "dists/testing/Release", "**/Packages", "*.txt"},
			expected: []string{
				"--include=dists/",
				"--include=dists/stable/",
				"--include=dists/testing/",
				"--include=**/",
				"--include=dists/stable/Release",
				"--include=dists/testing/Release",
				"--include=**/Packages",
				"--include=*.txt",
				"--exclude=*",
			},
		},
		{
			name:    "include wins over exclude",
			include: []string{"*.txt", "**/Release"},
			exclude: []string{"*"},
			expected: []string{
				"--include=**/",
				"--include=*.txt",
				"--include=**/Release",
				"--exclude=*",
			},
		},
		{
			name:    "trailing slash does not add an empty component",
			include: []string{"pool/main/"},
			expected: []string{
				"--include=pool/",
				"--include=pool/main/",
				"--exclude=*",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterRules(tc.include, tc.exclude)
			if len(tc.expected) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

// TestFilterRules_Ordering checks the ordering contract on a larger input:
// directory includes, then pattern includes, then exactly one catch-all exclude.
func TestFilterRules_Ordering(t *testing.T) {
	include := []string{"a/b/c/d.txt", "x/y.txt", "a/b/e", "*.md", "x/z/w"}
	exclude := []string{"*.iso"}

	rules := FilterRules(include, exclude)
	require.NotEmpty(t, rules)

	const (
		phaseDirs = iota
		phasePatterns
		phaseExclude
	)
	phase := phaseDirs
	patternIdx := 0
	for i, rule := range rules {
		switch {
		case strings.HasPrefix(rule, "--include=") && strings.HasSuffix(rule, "/") && phase == phaseDirs && patternIdx == 0:
			// directory rules come first
		case strings.HasPrefix(rule, "--include="):
			phase = phasePatterns
			require.Less(t, patternIdx, len(include), "unexpected include rule %q", rule)
			assert.Equal(t, "--include="+include[patternIdx], rule)
			patternIdx++
		case rule == "--exclude=*":
			assert.Equal(t, phasePatterns, phase)
			assert.Equal(t, len(rules)-1, i, "catch-all exclude must be last")
			phase = phaseExclude
		default:
			t.Fatalf("unexpected rule %q", rule)
		}
	}
	assert.Equal(t, len(include), patternIdx)
	assert.Equal(t, phaseExclude, phase)
	assert.NotContains(t, rules, "--exclude=*.iso")
}

func TestParentDirs(t *testing.T) {
	assert.Nil(t, parentDirs("file.txt"))
	assert.Nil(t, parentDirs("dir/"))
	assert.Equal(t, []string{"a", "a/b"}, parentDirs("a/b/c"))
	assert.Equal(t, []string{"", "/srv"}, parentDirs("/srv/file"))
}
