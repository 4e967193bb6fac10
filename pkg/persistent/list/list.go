// Package list implements a persistent singly linked list. pkg/eval uses
// it as the value type behind a global variable that several branched
// Script-Threads accumulate into concurrently (spec.md §8's "accumulating
// subshell output without fork" scenario): each branch conses its own
// result onto the list it reads out of the shared global and writes the
// new head back, without any of them needing to coordinate over a mutex
// beyond the GIL they already hold while doing it.
package list

// List is a persistent, immutable linked list.
type List[T any] interface {
	// Len returns the number of values in the list.
	Len() int
	// Cons returns a new list with an additional value in the front.
	Cons(T) List[T]
	// First returns the first value in the list.
	First() T
	// Rest returns the list after the first value.
	Rest() List[T]
}

// Empty returns an empty list of T.
func Empty[T any]() List[T] { return &list[T]{} }

type list[T any] struct {
	first T
	rest  *list[T]
	count int
}

func (l *list[T]) Len() int { return l.count }

func (l *list[T]) Cons(val T) List[T] {
	return &list[T]{val, l, l.count + 1}
}

func (l *list[T]) First() T { return l.first }

func (l *list[T]) Rest() List[T] {
	if l.rest == nil {
		var empty list[T]
		return &empty
	}
	return l.rest
}
