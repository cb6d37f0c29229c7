package dvbrx

import (
	"golang.org/x/sync/errgroup"
)

/*-------------------------------------------------------------
 *
 * Purpose:	Decode FEC frames on several goroutines while keeping
 *		their order.
 *
 * Description:	Jobs are queued in submission order.  Next only
 *		returns the oldest job, once its worker has finished.
 *		The pipeline goroutine is the only caller.
 *
 *--------------------------------------------------------------*/

type LDPCWorkerPool struct {
	g        errgroup.Group
	queue    []*fecJob
	maxQueue int
}

// NewLDPCWorkerPool runs at most workers decodes at once and accepts at
// most backlog jobs not yet collected.
func NewLDPCWorkerPool(workers, backlog int) *LDPCWorkerPool {
	var p = &LDPCWorkerPool{maxQueue: max(backlog, workers, 1)}
	p.g.SetLimit(max(workers, 1))
	return p
}

// Submit starts fn(j) on a worker.  Returns false when every worker is
// busy or the backlog is full; the caller keeps the job.  It only blocks
// when nothing is queued.
func (p *LDPCWorkerPool) Submit(j *fecJob, fn func(*fecJob)) bool {
	if len(p.queue) >= p.maxQueue {
		return false
	}
	var done = make(chan struct{})
	var work = func() error {
		defer close(done)
		fn(j)
		return nil
	}
	if len(p.queue) == 0 {
		// Workers of collected jobs may not have exited yet; wait for one.
		p.g.Go(work)
	} else if !p.g.TryGo(work) {
		return false
	}
	j.done = done
	p.queue = append(p.queue, j)
	return true
}

// Next removes the oldest job if it has finished.  With wait it blocks
// until it has; nil means the queue is empty or the job is still running.
func (p *LDPCWorkerPool) Next(wait bool) *fecJob {
	if len(p.queue) == 0 {
		return nil
	}
	var j = p.queue[0]
	if wait {
		<-j.done
	} else {
		select {
		case <-j.done:
		default:
			return nil
		}
	}
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return j
}

func (p *LDPCWorkerPool) Pending() int { return len(p.queue) }

// Wait blocks until all workers are idle.
func (p *LDPCWorkerPool) Wait() error {
	return p.g.Wait()
}
