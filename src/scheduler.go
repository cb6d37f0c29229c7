package dvbrx

import (
	"github.com/charmbracelet/log"
)

// A pipeline stage.  run() consumes whatever input it can use and returns
// once it is short of input or of output space.  It must never block.
type runnable interface {
	run()
}

type scheduler struct {
	runnables []runnable
	buffers   []progressCounter
	logger    *log.Logger

	// Safety net against a stage that keeps reporting progress forever.
	maxPasses int
}

func newScheduler(logger *log.Logger) *scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &scheduler{
		logger:    logger,
		maxPasses: 10000,
	}
}

func (s *scheduler) add(r runnable) {
	s.runnables = append(s.runnables, r)
}

func (s *scheduler) addBuffer(b progressCounter) {
	s.buffers = append(s.buffers, b)
}

func (s *scheduler) total() uint64 {
	var t uint64
	for _, b := range s.buffers {
		t += b.progress()
	}
	return t
}

// step runs every stage once, in the order they were added.
// Returns true if any buffer changed.
func (s *scheduler) step() bool {
	var before = s.total()
	for _, r := range s.runnables {
		r.run()
	}
	return s.total() != before
}

// drain steps until nothing moves any more.
func (s *scheduler) drain() {
	for pass := 0; pass < s.maxPasses; pass++ {
		if !s.step() {
			return
		}
	}
	s.logger.Warn("scheduler: giving up after too many passes without going idle", "passes", s.maxPasses)
}
