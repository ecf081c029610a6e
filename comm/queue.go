package comm

import (
	"context"
	"errors"
	"sync"
)

var ErrTypeAlreadyQueued = errors.New("comm: command type already queued")

// QueueEntry is a command waiting to be transmitted.
type QueueEntry struct {
	Command string
	// Type is the de-duplication tag, "" for none.
	Type string
	// LineNumber is used for resends, which are transmitted as is with this line number.
	LineNumber int
	Resend     bool
}

// CommandQueue is the FIFO of commands for the sender. At most one entry per non empty Type is
// pending at any time.
type CommandQueue struct {
	mu      sync.Mutex
	entries []QueueEntry
	signal  chan struct{}
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{signal: make(chan struct{}, 1)}
}

func (q *CommandQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Put appends entry. When an entry of the same type is already pending, its command is replaced
// by the new one, keeping its position, and ErrTypeAlreadyQueued is returned.
func (q *CommandQueue) Put(entry QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry.Type != "" {
		for i := range q.entries {
			if q.entries[i].Type == entry.Type {
				q.entries[i].Command = entry.Command
				return ErrTypeAlreadyQueued
			}
		}
	}
	q.entries = append(q.entries, entry)
	q.notify()
	return nil
}

// PushFront puts entry ahead of everything pending.
func (q *CommandQueue) PushFront(entry QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]QueueEntry{entry}, q.entries...)
	q.notify()
}

// Get blocks until an entry is available or ctx is done.
func (q *CommandQueue) Get(ctx context.Context) (QueueEntry, error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			entry := q.entries[0]
			q.entries = q.entries[1:]
			if len(q.entries) > 0 {
				q.notify()
			}
			q.mu.Unlock()
			return entry, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return QueueEntry{}, ctx.Err()
		}
	}
}

// Clear drops every pending entry.
func (q *CommandQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
