package events

import (
	"container/list"
	"sync"
	"time"
)

// queued is an event kept for replay.
type queued struct {
	ID    int64
	Event Event
	At    time.Time
}

// replayQueue buffers recent events per tab session so a reconnecting
// stream can resume from its Last-Event-ID. Each session has its own
// bounded list so one session's burst cannot evict another's events.
type replayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &replayQueue{queues: make(map[string]*list.List), maxSize: maxSize}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

func (q *replayQueue) enqueue(id int64, e Event, at time.Time) {
	key := sessionKey(e.UserID, e.SessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(&queued{ID: id, Event: e, At: at})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// after returns the events of a session newer than afterID, oldest first.
func (q *replayQueue) after(userID, sessionID string, afterID int64) []*queued {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionKey(userID, sessionID)]
	if !ok {
		return nil
	}
	var out []*queued
	for e := l.Front(); e != nil; e = e.Next() {
		if m := e.Value.(*queued); m.ID > afterID {
			out = append(out, m)
		}
	}
	return out
}

// sweep drops sessions whose newest event is older than before.
func (q *replayQueue) sweep(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for key, l := range q.queues {
		back := l.Back()
		if back == nil || back.Value.(*queued).At.Before(before) {
			delete(q.queues, key)
			removed++
		}
	}
	return removed
}

func (q *replayQueue) drop(userID string) {
	prefix := userID + ":"
	q.mu.Lock()
	defer q.mu.Unlock()
	for key := range q.queues {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(q.queues, key)
		}
	}
}
