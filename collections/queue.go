package collections

import (
	"github.com/lscube/feng/utils"
)

// Queue 可扩容的环形队列
type Queue[T any] struct {
	*ringBuffer[T]
}

func NewQueue[T any](capacity int) *Queue[T] {
	utils.Assert(capacity > 0)

	return &Queue[T]{ringBuffer: &ringBuffer[T]{
		data: make([]T, capacity),
	}}
}

func (q *Queue[T]) Push(value T) {
	if q.IsFull() {
		// 按顺序拷贝到新数组, 队头从0开始
		newArray := make([]T, len(q.data)*2)
		for i := 0; i < q.size; i++ {
			newArray[i] = q.Peek(i)
		}

		q.data = newArray
		q.head = 0
		q.tail = q.size
	}

	q.TryPush(value)
}

func (q *Queue[T]) PopBack() T {
	utils.Assert(q.size > 0)

	value := q.Tail()
	var zero T
	q.tail = (q.tail - 1 + len(q.data)) % len(q.data)
	q.data[q.tail] = zero
	q.size--
	return value
}
