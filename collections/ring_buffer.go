package collections

import (
	"github.com/lscube/feng/utils"
)

// RingBuffer 固定容量的环形队列, 满了之后拒绝写入
type RingBuffer[T any] interface {
	IsEmpty() bool

	IsFull() bool

	// TryPush 队列已满返回false, 不覆盖旧元素
	TryPush(value T) bool

	Pop() (T, bool)

	Head() T

	Tail() T

	Size() int

	Capacity() int

	Clear()
}

func NewRingBuffer[T any](capacity int) RingBuffer[T] {
	utils.Assert(capacity > 0)
	return &ringBuffer[T]{
		data: make([]T, capacity),
	}
}

type ringBuffer[T any] struct {
	data []T
	head int
	tail int
	size int
}

func (r *ringBuffer[T]) IsEmpty() bool {
	return r.size == 0
}

func (r *ringBuffer[T]) IsFull() bool {
	return r.size == len(r.data)
}

func (r *ringBuffer[T]) TryPush(value T) bool {
	if r.IsFull() {
		return false
	}

	r.data[r.tail] = value
	r.tail = (r.tail + 1) % len(r.data)
	r.size++
	return true
}

func (r *ringBuffer[T]) Pop() (T, bool) {
	var zero T
	if r.IsEmpty() {
		return zero, false
	}

	element := r.data[r.head]
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.size--
	return element, true
}

func (r *ringBuffer[T]) Head() T {
	utils.Assert(!r.IsEmpty())
	return r.data[r.head]
}

func (r *ringBuffer[T]) Tail() T {
	utils.Assert(!r.IsEmpty())
	if r.tail > 0 {
		return r.data[r.tail-1]
	}

	return r.data[len(r.data)-1]
}

func (r *ringBuffer[T]) Size() int {
	return r.size
}

func (r *ringBuffer[T]) Capacity() int {
	return len(r.data)
}

func (r *ringBuffer[T]) Clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}

	r.size = 0
	r.head = 0
	r.tail = 0
}

func (r *ringBuffer[T]) Peek(index int) T {
	utils.Assert(index >= 0 && index < r.size)
	return r.data[(r.head+index)%len(r.data)]
}
