package progress

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Tracker tracks progress for a single name in a batch.
type Tracker interface {
	SetStage(stage string)
	Done()
}

// Manager creates trackers for the items of one batch.
type Manager interface {
	NewTracker(index, total int, name string) Tracker
	Wait()
	SetOverallStats(matched, notFound, failed int)
}

// MPBManager renders a single overall bar for the batch, with the most
// recent stage shown beside it.
type MPBManager struct {
	container *mpb.Progress
	once      sync.Once
	bar       *mpb.Bar
	current   atomic.Value
	stats     atomic.Value
}

// NewMPBManager creates a new mpb-based progress manager.
func NewMPBManager() *MPBManager {
	m := &MPBManager{container: mpb.New(mpb.WithWidth(60), mpb.WithOutput(os.Stderr))}
	m.current.Store("")
	m.stats.Store("")
	return m
}

func (m *MPBManager) ensureBar(total int) {
	m.once.Do(func() {
		m.bar = m.container.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name("Resolving ", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d/%d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Any(func(s decor.Statistics) string {
					return m.stats.Load().(string)
				}),
				decor.Any(func(s decor.Statistics) string {
					return "  " + m.current.Load().(string)
				}),
			),
		)
	})
}

// NewTracker creates a tracker for one name. The bar is sized on first use.
func (m *MPBManager) NewTracker(index, total int, name string) Tracker {
	m.ensureBar(total)
	return &mpbTracker{mgr: m, label: fmt.Sprintf("[%d/%d] %s", index+1, total, name)}
}

// Wait waits for the bar to finish. Call it after every tracker is done;
// a bar left short by cancellation is aborted in place.
func (m *MPBManager) Wait() {
	if m.bar != nil && !m.bar.Completed() {
		m.bar.Abort(false)
	}
	m.container.Wait()
}

func (m *MPBManager) SetOverallStats(matched, notFound, failed int) {
	m.stats.Store(fmt.Sprintf(" %d matched, %d not found, %d failed", matched, notFound, failed))
}

type mpbTracker struct {
	mgr   *MPBManager
	label string
}

func (t *mpbTracker) SetStage(stage string) {
	t.mgr.current.Store(t.label + " " + stage)
}

func (t *mpbTracker) Done() {
	t.mgr.bar.Increment()
}

// NoopManager records counts without rendering anything. The HTTP server
// uses it for bulk requests.
type NoopManager struct {
	Matched  int32
	NotFound int32
	Failed   int32
	Finished int32
}

func (m *NoopManager) NewTracker(index, total int, name string) Tracker {
	return &noopTracker{mgr: m}
}

func (m *NoopManager) Wait() {}

func (m *NoopManager) SetOverallStats(matched, notFound, failed int) {
	atomic.StoreInt32(&m.Matched, int32(matched))
	atomic.StoreInt32(&m.NotFound, int32(notFound))
	atomic.StoreInt32(&m.Failed, int32(failed))
}

type noopTracker struct {
	mgr *NoopManager
}

func (t *noopTracker) SetStage(stage string) {}

func (t *noopTracker) Done() {
	atomic.AddInt32(&t.mgr.Finished, 1)
}
