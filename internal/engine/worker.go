package engine

import (
	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// A task is a long-running unit of work bound to one instrument. It returns
// when its book goes away or the tomb is dying.
type task func(t *tomb.Tomb) error

// workerPool is a fixed set of workers draining a shared task channel. Each
// matcher task occupies its worker until it finishes, so the pool size
// bounds how many instruments are matched at once; further tasks queue.
type workerPool struct {
	tasks chan task
	log   zerolog.Logger
}

func newWorkerPool(log zerolog.Logger) *workerPool {
	return &workerPool{
		tasks: make(chan task, taskChanSize),
		log:   log,
	}
}

// start launches n workers under t.
func (p *workerPool) start(t *tomb.Tomb, n int) {
	for i := 0; i < n; i++ {
		id := i
		t.Go(func() error {
			return p.worker(t, id)
		})
	}
}

// trySubmit queues a task without blocking; false when the channel is full,
// in which case the caller retries on a later scan.
func (p *workerPool) trySubmit(tk task) bool {
	select {
	case p.tasks <- tk:
		return true
	default:
		return false
	}
}

func (p *workerPool) worker(t *tomb.Tomb, id int) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case tk := <-p.tasks:
			if err := tk(t); err != nil {
				p.log.Error().Err(err).Int("worker", id).Msg("worker exiting")
				return err
			}
		}
	}
}
