package comm

import "sync"

// inbox is an unbounded FIFO of messages for one rank. Senders never
// block.
type inbox struct {
	mu     sync.Mutex
	queue  []Message
	head   int
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) push(m Message) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) pop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == len(b.queue) {
		return Message{}, false
	}
	m := b.queue[b.head]
	b.queue[b.head] = Message{}
	b.head++
	if b.head == len(b.queue) {
		b.queue = b.queue[:0]
		b.head = 0
	} else if b.head > 64 && b.head*2 > len(b.queue) {
		n := copy(b.queue, b.queue[b.head:])
		b.queue = b.queue[:n]
		b.head = 0
	}
	return m, true
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) - b.head
}
