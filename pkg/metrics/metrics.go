package metrics

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Metrics defines the interface for collecting and reporting sync run statistics.
type Metrics interface {
	AddCompleted(n int64)
	AddFailed(n int64)
	AddErrored(n int64)
	AddFilesTransferred(n int64)
	AddBytesReceived(n int64)
	Log()
}

// RunMetrics holds the atomic counters across the runs of one process.
// It is the concrete implementation of the Metrics interface.
type RunMetrics struct {
	Completed        atomic.Int64
	Failed           atomic.Int64
	Errored          atomic.Int64
	FilesTransferred atomic.Int64
	BytesReceived    atomic.Int64
}

func (m *RunMetrics) AddCompleted(n int64)        { m.Completed.Add(n) }
func (m *RunMetrics) AddFailed(n int64)           { m.Failed.Add(n) }
func (m *RunMetrics) AddErrored(n int64)          { m.Errored.Add(n) }
func (m *RunMetrics) AddFilesTransferred(n int64) { m.FilesTransferred.Add(n) }
func (m *RunMetrics) AddBytesReceived(n int64)    { m.BytesReceived.Add(n) }

// Log prints a summary of the runs.
func (m *RunMetrics) Log() {
	received := m.BytesReceived.Load()
	if received < 0 {
		received = 0
	}
	plog.Info("SUM",
		"completed", m.Completed.Load(),
		"failed", m.Failed.Load(),
		"errored", m.Errored.Load(),
		"filesTransferred", humanize.Comma(m.FilesTransferred.Load()),
		"received", humanize.Bytes(uint64(received)),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddCompleted(n int64)        {}
func (m *NoopMetrics) AddFailed(n int64)           {}
func (m *NoopMetrics) AddErrored(n int64)          {}
func (m *NoopMetrics) AddFilesTransferred(n int64) {}
func (m *NoopMetrics) AddBytesReceived(n int64)    {}
func (m *NoopMetrics) Log()                        {}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
