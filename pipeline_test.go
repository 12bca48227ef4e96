package vmrepo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openslides/vmrepo/pkg/constants"
)

type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) task(kind taskKind, name string) *task {
	return &task{kind: kind, run: func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ran = append(r.ran, name)
		return nil
	}}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

// blockPipeline starts a task that runs until release is closed.
func blockPipeline(t *testing.T, p *pipeline) (release func()) {
	t.Helper()
	started := make(chan struct{})
	unblock := make(chan struct{})
	p.enqueue(&task{kind: generalTask, run: func(context.Context) error {
		close(started)
		<-unblock
		return nil
	}})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("blocking task did not start")
	}
	return func() { close(unblock) }
}

func TestPipelineCollapsesResortAndReset(t *testing.T) {
	p := newPipeline(nil, nil)
	defer p.close()
	release := blockPipeline(t, p)

	rec := &recorder{}
	p.enqueue(rec.task(generalTask, "g1"))
	p.enqueue(rec.task(resortTask, "resort1"))
	p.enqueue(rec.task(resortTask, "resort2"))
	assert.Equal(t, []taskKind{resortTask, generalTask}, p.pendingKinds())

	p.enqueue(rec.task(resetTask, "reset1"))
	assert.Equal(t, []taskKind{resetTask, generalTask}, p.pendingKinds())

	p.enqueue(rec.task(generalTask, "g2"))
	p.enqueue(rec.task(resortTask, "resort3"))
	assert.Equal(t, []taskKind{resortTask, resetTask, generalTask, generalTask}, p.pendingKinds())

	p.enqueue(rec.task(resetTask, "reset2"))
	assert.Equal(t, []taskKind{resetTask, generalTask, generalTask}, p.pendingKinds())

	release()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.waitIdle(ctx))
	assert.Equal(t, []string{"reset2", "g1", "g2"}, rec.names())
}

func TestPipelineRunsGeneralTasksInOrder(t *testing.T) {
	p := newPipeline(nil, nil)
	defer p.close()

	rec := &recorder{}
	for _, name := range []string{"a", "b", "c", "d"} {
		p.enqueue(rec.task(generalTask, name))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.waitIdle(ctx))
	assert.Equal(t, []string{"a", "b", "c", "d"}, rec.names())
}

func TestPipelineWaitIdleTimeout(t *testing.T) {
	p := newPipeline(nil, nil)
	defer p.close()
	release := blockPipeline(t, p)
	defer release()
	p.enqueue(&task{kind: generalTask, run: func(context.Context) error { return nil }})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.waitIdle(ctx)
	assert.ErrorIs(t, err, constants.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	err = p.waitIdle(canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, constants.ErrTimeout)
}

func TestPipelineReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	var (
		mu    sync.Mutex
		kinds []taskKind
	)
	p := newPipeline(nil, func(kind taskKind, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(t, err, boom)
		kinds = append(kinds, kind)
	})
	defer p.close()

	rec := &recorder{}
	p.enqueue(&task{kind: resortTask, run: func(context.Context) error { return boom }})
	p.enqueue(rec.task(generalTask, "after"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.waitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []taskKind{resortTask}, kinds)
	assert.Equal(t, []string{"after"}, rec.names(), "a failed task does not stop the pipeline")
}

func TestPipelineCloseCancelsRunningTask(t *testing.T) {
	p := newPipeline(nil, func(taskKind, error) {
		t.Error("cancellation must not be reported")
	})
	cancelled := make(chan struct{})
	started := make(chan struct{})
	p.enqueue(&task{kind: resetTask, run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}})
	<-started
	p.enqueue(&task{kind: generalTask, run: func(context.Context) error {
		t.Error("pending tasks must be dropped on close")
		return nil
	}})

	p.close()
	<-cancelled
	require.NoError(t, p.waitIdle(context.Background()))

	// Enqueueing after close is a no-op.
	p.enqueue(&task{kind: generalTask, run: func(context.Context) error {
		t.Error("closed pipeline must not run tasks")
		return nil
	}})
	require.NoError(t, p.waitIdle(context.Background()))
}

func TestTaskKindString(t *testing.T) {
	assert.Equal(t, "general", generalTask.String())
	assert.Equal(t, "resort", resortTask.String())
	assert.Equal(t, "reset", resetTask.String())
	assert.Equal(t, "unknown", taskKind(9).String())
}
