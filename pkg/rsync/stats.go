package rsync

import (
	"regexp"
	"strconv"
	"strings"
)

// rsync 3.1+ says "regular files transferred" and may print sizes as "8.91M bytes";
// both spellings are accepted. The byte counters are anchored at end of line so a
// human-readable value like "1.05K" is skipped instead of being read as 1.
var (
	filesProcessedRe   = regexp.MustCompile(`Number of files: ([\d,]+)`)
	filesTransferredRe = regexp.MustCompile(`Number of (?:regular )?files transferred: ([\d,]+)`)
	transferredSizeRe  = regexp.MustCompile(`Total transferred file size: ([\d.,]+(?:[KMGT]?B|[KMGT]? bytes))`)
	bytesSentRe        = regexp.MustCompile(`(?m)Total bytes sent: ([\d,]+)\s*$`)
	bytesReceivedRe    = regexp.MustCompile(`(?m)Total bytes received: ([\d,]+)\s*$`)
)

// Stats holds the counters found in rsync's --stats summary. A nil field means
// the corresponding line was not present.
type Stats struct {
	FilesProcessed   *int64
	FilesTransferred *int64
	// BytesTransferred keeps rsync's human-readable form, e.g. "123.45MB".
	BytesTransferred *string
	BytesSent        *int64
	BytesReceived    *int64
}

// ParseStats scans rsync output for the summary lines. It returns nil when
// none of them are present, so callers can tell "no summary" apart from a
// summary with zero counts.
func ParseStats(output string) *Stats {
	var s Stats
	found := false

	if v, ok := matchInt(filesProcessedRe, output); ok {
		s.FilesProcessed = &v
		found = true
	}
	if v, ok := matchInt(filesTransferredRe, output); ok {
		s.FilesTransferred = &v
		found = true
	}
	if m := transferredSizeRe.FindStringSubmatch(output); m != nil {
		size := m[1]
		s.BytesTransferred = &size
		found = true
	}
	if v, ok := matchInt(bytesSentRe, output); ok {
		s.BytesSent = &v
		found = true
	}
	if v, ok := matchInt(bytesReceivedRe, output); ok {
		s.BytesReceived = &v
		found = true
	}

	if !found {
		return nil
	}
	return &s
}

// matchInt returns the first capture of re as an integer with thousands separators removed.
func matchInt(re *regexp.Regexp, output string) (int64, bool) {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
