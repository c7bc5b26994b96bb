package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogManager implements Manager with line-based output for non-TTY
// environments (Fargate, CI). Each stage change prints one line; overall
// stats are printed at most once per logInterval.
type LogManager struct {
	mu      sync.Mutex
	out     io.Writer
	lastLog time.Time
}

// NewLogManager creates a log-based progress manager writing to stderr.
func NewLogManager() *LogManager {
	return &LogManager{out: os.Stderr}
}

func (m *LogManager) NewTracker(index, total int, name string) Tracker {
	return &logTracker{
		mgr:   m,
		index: index,
		total: total,
		name:  name,
		start: time.Now(),
	}
}

func (m *LogManager) Wait() {}

const logInterval = 20 * time.Second

func (m *LogManager) SetOverallStats(matched, notFound, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastLog) < logInterval {
		return
	}
	m.lastLog = time.Now()
	fmt.Fprintf(m.out, "%s progress: %d matched, %d not found, %d failed\n",
		time.Now().Format("15:04:05"), matched, notFound, failed)
}

type logTracker struct {
	mgr   *LogManager
	index int
	total int
	name  string
	start time.Time
}

func (t *logTracker) log(msg string) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(t.mgr.out, "%s [%d/%d] %s  %s\n", ts, t.index+1, t.total, t.name, msg)
}

func (t *logTracker) SetStage(stage string) {
	t.log(stage)
}

func (t *logTracker) Done() {
	elapsed := time.Since(t.start).Truncate(time.Millisecond)
	t.log(fmt.Sprintf("finished in %s", elapsed))
}
