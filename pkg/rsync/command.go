// Package rsync builds rsync argument vectors from mirror definitions and
// extracts transfer statistics from rsync's --stats summary.
//
// Nothing in this package touches the network or the filesystem; rsync itself
// is executed by the caller.
package rsync

import (
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
)

// DefaultBinary is the executable invoked when a Builder has no Binary set.
const DefaultBinary = "rsync"

// baseFlags are always passed:
// -a archive (recursive, preserve perms/times/links), -v verbose, -z compress,
// --delete remove files that vanished upstream, --stats print the summary parsed by ParseStats,
// --human-readable, --hard-links preserve hard links.
var baseFlags = []string{"-avz", "--delete", "--stats", "--human-readable", "--hard-links"}

// Builder turns a mirror definition into an rsync command line.
type Builder struct {
	// Binary is the rsync executable, DefaultBinary when empty.
	Binary string
}

// Build returns the full argument vector, binary first.
func (b Builder) Build(m config.Mirror, dryRun bool) []string {
	binary := b.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	args := make([]string, 0, len(baseFlags)+len(m.Include)*2+len(m.Exclude)+6)
	args = append(args, binary)
	args = append(args, baseFlags...)

	if m.BWLimit != "" {
		args = append(args, "--bwlimit="+string(m.BWLimit))
	}

	args = append(args, FilterRules(m.Include, m.Exclude)...)

	if dryRun {
		args = append(args, "--dry-run")
	}

	return append(args, m.Upstream, m.LocalPath)
}

// BuildArgs is Build with the default binary.
func BuildArgs(m config.Mirror, dryRun bool) []string {
	return Builder{}.Build(m, dryRun)
}

// FilterRules derives rsync --include/--exclude arguments.
//
// With include patterns, rsync only descends into directories that are
// themselves included, so every ancestor directory of every pattern is
// allow-listed first ("a/", "a/b/" for "a/b/file"), followed by the patterns
// themselves and a final catch-all exclude. rsync applies the first matching
// rule, so this order is significant.
//
// Exclude patterns are only used when there are no include patterns.
func FilterRules(include, exclude []string) []string {
	if len(include) == 0 {
		rules := make([]string, 0, len(exclude))
		for _, pattern := range exclude {
			rules = append(rules, "--exclude="+pattern)
		}
		return rules
	}

	var rules []string
	seen := make(map[string]struct{})
	for _, pattern := range include {
		for _, dir := range parentDirs(pattern) {
			if _, ok := seen[dir]; ok {
				continue
			}
			seen[dir] = struct{}{}
			rules = append(rules, "--include="+dir+"/")
		}
	}
	for _, pattern := range include {
		rules = append(rules, "--include="+pattern)
	}
	return append(rules, "--exclude=*")
}

// parentDirs returns each progressively deeper directory prefix of pattern,
// excluding the final path component: "a/b/c" yields ["a", "a/b"].
// Trailing slashes do not introduce an empty final component, so "a/b/" yields ["a"].
func parentDirs(pattern string) []string {
	segments := strings.Split(pattern, "/")
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) < 2 {
		return nil
	}

	dirs := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		dirs = append(dirs, strings.Join(segments[:i], "/"))
	}
	return dirs
}
