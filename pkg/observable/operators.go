package observable

import (
	"sync"
	"time"
)

func Filter[T any](src Observable[T], pred func(T) bool) Observable[T] {
	return Func[T](func(fn func(T)) Subscription {
		return src.Subscribe(func(v T) {
			if pred(v) {
				fn(v)
			}
		})
	})
}

func Map[T, R any](src Observable[T], f func(T) R) Observable[R] {
	return Func[R](func(fn func(R)) Subscription {
		return src.Subscribe(func(v T) {
			fn(f(v))
		})
	})
}

// DistinctUntilChanged suppresses values equal to the previously delivered one.
func DistinctUntilChanged[T any](src Observable[T], eq func(prev, curr T) bool) Observable[T] {
	return Func[T](func(fn func(T)) Subscription {
		var (
			mu   sync.Mutex
			has  bool
			prev T
		)
		return src.Subscribe(func(v T) {
			mu.Lock()
			if has && eq(prev, v) {
				mu.Unlock()
				return
			}
			has, prev = true, v
			mu.Unlock()
			fn(v)
		})
	})
}

// Audit delivers the latest value d after the first value of each burst.
// Values arriving while a delivery is pending replace the pending value.
func Audit[T any](src Observable[T], d time.Duration) Observable[T] {
	return Func[T](func(fn func(T)) Subscription {
		var (
			mu      sync.Mutex
			pending bool
			latest  T
			timer   *time.Timer
			stopped bool
		)
		emit := func() {
			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			v := latest
			pending = false
			mu.Unlock()
			fn(v)
		}
		sub := src.Subscribe(func(v T) {
			mu.Lock()
			defer mu.Unlock()
			latest = v
			if pending || stopped {
				return
			}
			pending = true
			timer = time.AfterFunc(d, emit)
		})
		return NewSubscription(func() {
			sub.Unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			stopped = true
			if timer != nil {
				timer.Stop()
			}
		})
	})
}

// CombineLatest emits the latest value of every source once each source has
// emitted at least once. No sources emit an empty slice immediately.
func CombineLatest[T any](srcs []Observable[T]) Observable[[]T] {
	return Func[[]T](func(fn func([]T)) Subscription {
		if len(srcs) == 0 {
			fn([]T{})
			return NewSubscription(func() {})
		}
		var (
			mu     sync.Mutex
			values = make([]T, len(srcs))
			seen   = make([]bool, len(srcs))
			count  int
		)
		subs := make(Subscriptions, 0, len(srcs))
		for i, src := range srcs {
			subs = append(subs, src.Subscribe(func(v T) {
				mu.Lock()
				values[i] = v
				if !seen[i] {
					seen[i] = true
					count++
				}
				if count < len(srcs) {
					mu.Unlock()
					return
				}
				out := append([]T(nil), values...)
				mu.Unlock()
				fn(out)
			}))
		}
		return subs
	})
}
