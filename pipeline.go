package vmrepo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/logger"
)

type taskKind int

const (
	// generalTask merges a delta of new and updated view models.
	generalTask taskKind = iota
	// resortTask re-sorts after a watched foreign key changed.
	resortTask
	// resetTask re-sorts after the sort strategy or its definition changed.
	resetTask
)

func (k taskKind) String() string {
	switch k {
	case generalTask:
		return "general"
	case resortTask:
		return "resort"
	case resetTask:
		return "reset"
	}
	return "unknown"
}

type task struct {
	kind taskKind
	run  func(ctx context.Context) error
}

// pipeline runs tasks one at a time, in queue order, on a single worker
// goroutine.
//
// General tasks are appended. Resort and reset tasks go to the front of the
// pending queue, directly behind the running task, and replace pending tasks
// of the same kind; a reset also replaces pending resorts.
type pipeline struct {
	mu      sync.Mutex
	pending []*task
	active  *task
	busy    bool
	idleCh  chan struct{}
	closed  bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	onError func(kind taskKind, err error)
	logger  logger.Logger

	closeOnce sync.Once
}

func newPipeline(log logger.Logger, onError func(taskKind, error)) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	p := &pipeline{
		idleCh:  idle,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		onError: onError,
		logger:  logger.OrNop(log),
	}
	go p.loop()
	return p
}

func (p *pipeline) enqueue(t *task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	switch t.kind {
	case generalTask:
		p.pending = append(p.pending, t)
	default:
		p.pending = slices.DeleteFunc(p.pending, func(q *task) bool {
			return q.kind == t.kind || (t.kind == resetTask && q.kind == resortTask)
		})
		p.pending = slices.Insert(p.pending, 0, t)
	}
	if !p.busy {
		p.busy = true
		p.idleCh = make(chan struct{})
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *pipeline) next() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = nil
	if len(p.pending) == 0 || p.closed {
		if p.busy {
			p.busy = false
			close(p.idleCh)
		}
		return nil, false
	}
	t := p.pending[0]
	p.pending = p.pending[1:]
	p.active = t
	return t, true
}

func (p *pipeline) loop() {
	defer close(p.done)
	for {
		t, ok := p.next()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-p.stopCh:
				return
			}
		}
		if err := t.run(p.ctx); err != nil {
			if p.ctx.Err() != nil {
				continue
			}
			p.logger.Error("pipeline task failed", "task", t.kind.String(), "error", err)
			if p.onError != nil {
				p.onError(t.kind, err)
			}
		}
	}
}

// waitIdle blocks until no task is running or pending. It returns
// constants.ErrTimeout when the deadline of ctx passes first.
func (p *pipeline) waitIdle(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idleCh
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %d tasks pending: %w", constants.ErrTimeout, len(p.pendingKinds()), err)
		}
		return err
	}
}

// pendingKinds lists the kinds of the queued tasks, front first.
func (p *pipeline) pendingKinds() []taskKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]taskKind, len(p.pending))
	for i, t := range p.pending {
		kinds[i] = t.kind
	}
	return kinds
}

// close drops pending tasks, cancels the running one and waits for the worker.
func (p *pipeline) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.pending = nil
		p.mu.Unlock()

		p.cancel()
		close(p.stopCh)
		<-p.done

		p.mu.Lock()
		if p.busy {
			p.busy = false
			close(p.idleCh)
		}
		p.mu.Unlock()
	})
}
