package bridge

type outcome[T any] struct {
	value T
	err   error
}

// result is the single-slot handoff between the worker that runs a callable
// and the loop that settles its future. It is written once and read once.
type result[T any] struct {
	ch chan outcome[T]
}

func newResult[T any]() result[T] {
	return result[T]{ch: make(chan outcome[T], 1)}
}

func (r result[T]) put(o outcome[T]) {
	r.ch <- o
}

// take is only reached from the completion callback, which the pool posts
// after put has returned.
func (r result[T]) take() outcome[T] {
	select {
	case o := <-r.ch:
		return o
	default:
		panic("bridge: internal error: result read before write")
	}
}
