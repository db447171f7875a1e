package service

import "sync"

// SessionLocks hands out one RWMutex per upload id. Chunk receipt takes the
// shared side, finalize and the retention sweep take the exclusive side, so
// the chunk set is stable while a session is assembled or removed.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.RWMutex
	refs int
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *SessionLocks) RLock(uploadID string) (unlock func()) {
	sl := l.ref(uploadID)
	sl.RLock()
	return func() {
		sl.RUnlock()
		l.unref(uploadID)
	}
}

func (l *SessionLocks) Lock(uploadID string) (unlock func()) {
	sl := l.ref(uploadID)
	sl.Lock()
	return func() {
		sl.Unlock()
		l.unref(uploadID)
	}
}

func (l *SessionLocks) ref(uploadID string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl, ok := l.locks[uploadID]
	if !ok {
		sl = &sessionLock{}
		l.locks[uploadID] = sl
	}
	sl.refs++
	return sl
}

func (l *SessionLocks) unref(uploadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl := l.locks[uploadID]
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, uploadID)
	}
}

func (l *SessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
