package models

// Future is a single result delivered on a channel, with a way to abandon it.
type Future[T any] struct {
	input  <-chan T
	cancel func()
}

func NewFuture[T any](input <-chan T, cancel func()) *Future[T] {
	f := &Future[T]{
		input:  input,
		cancel: cancel,
	}

	return f
}

func (f *Future[T]) C() <-chan T {
	return f.input
}

func (f *Future[T]) Stop() {
	f.cancel()
}
