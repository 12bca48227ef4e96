package observable_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openslides/vmrepo/pkg/observable"
)

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) get() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func TestSubject(t *testing.T) {
	s := observable.NewSubject[int]()
	s.Next(1)

	rec := &recorder[int]{}
	sub := s.Subscribe(rec.record)
	require.True(t, s.Observed())
	s.Next(2)
	s.Next(3)
	sub.Unsubscribe()
	s.Next(4)

	assert.Equal(t, []int{2, 3}, rec.get())
	assert.False(t, s.Observed())
}

func TestSubjectClose(t *testing.T) {
	s := observable.NewSubject[int]()
	rec := &recorder[int]{}
	s.Subscribe(rec.record)
	s.Close()
	s.Next(1)
	s.Subscribe(rec.record).Unsubscribe()
	assert.Empty(t, rec.get())
}

func TestBehaviorSubjectReplaysValue(t *testing.T) {
	b := observable.NewBehaviorSubject("a")
	b.Next("b")

	rec := &recorder[string]{}
	b.Subscribe(rec.record)
	b.Next("c")

	assert.Equal(t, []string{"b", "c"}, rec.get())
	assert.Equal(t, "c", b.Value())
}

func TestReentrantNext(t *testing.T) {
	s := observable.NewSubject[int]()
	rec := &recorder[int]{}
	s.Subscribe(func(v int) {
		rec.record(v)
		if v < 3 {
			s.Next(v + 1)
		}
	})
	s.Next(1)
	assert.Equal(t, []int{1, 2, 3}, rec.get())
}

func TestFilterMapDistinct(t *testing.T) {
	s := observable.NewSubject[int]()
	rec := &recorder[string]{}
	even := observable.Filter[int](s, func(v int) bool { return v%2 == 0 })
	distinct := observable.DistinctUntilChanged(even, func(a, b int) bool { return a == b })
	observable.Map(distinct, func(v int) string { return string(rune('a' + v)) }).Subscribe(rec.record)

	for _, v := range []int{0, 1, 2, 2, 3, 4, 0, 0} {
		s.Next(v)
	}
	assert.Equal(t, []string{"a", "c", "e", "a"}, rec.get())
}

func TestAuditBatchesBurst(t *testing.T) {
	s := observable.NewSubject[int]()
	rec := &recorder[int]{}
	sub := observable.Audit[int](s, 20*time.Millisecond).Subscribe(rec.record)
	defer sub.Unsubscribe()

	for i := 1; i <= 5; i++ {
		s.Next(i)
	}
	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{5}, rec.get())

	s.Next(6)
	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{5, 6}, rec.get())
}

func TestAuditUnsubscribeCancelsPending(t *testing.T) {
	s := observable.NewSubject[int]()
	rec := &recorder[int]{}
	sub := observable.Audit[int](s, 20*time.Millisecond).Subscribe(rec.record)
	s.Next(1)
	sub.Unsubscribe()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.get())
}

func TestCombineLatest(t *testing.T) {
	a := observable.NewBehaviorSubject(1)
	b := observable.NewSubject[int]()
	rec := &recorder[[]int]{}
	sub := observable.CombineLatest([]observable.Observable[int]{a, b}).Subscribe(rec.record)
	defer sub.Unsubscribe()

	require.Empty(t, rec.get())
	b.Next(2)
	a.Next(3)
	assert.Equal(t, [][]int{{1, 2}, {3, 2}}, rec.get())

	empty := &recorder[[]int]{}
	observable.CombineLatest[int](nil).Subscribe(empty.record)
	assert.Equal(t, [][]int{{}}, empty.get())
}

func TestFirst(t *testing.T) {
	b := observable.NewBehaviorSubject(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Next(7)
	}()
	v, err := observable.First[int](context.Background(), b, func(v int) bool { return v != 0 })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = observable.First[int](ctx, observable.NewSubject[int](), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
