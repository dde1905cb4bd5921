package signal

import "sync"

// Distinct wraps fn so that it is called only when the value differs from
// the previous one it saw. The first value always passes.
func Distinct[T comparable](fn func(T)) func(T) {
	var (
		mu   sync.Mutex
		last T
		seen bool
	)
	return func(v T) {
		mu.Lock()
		if seen && v == last {
			mu.Unlock()
			return
		}
		seen, last = true, v
		mu.Unlock()
		fn(v)
	}
}

// Map wraps fn so that it receives f(v) instead of v.
func Map[A, B any](f func(A) B, fn func(B)) func(A) {
	return func(v A) { fn(f(v)) }
}
