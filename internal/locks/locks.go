package locks

import "sync"

// Registry hands out one mutex per call so that mutating operations against the
// same call (publish, cancel, close, register, edit, submit) run one at a time,
// while operations on different calls proceed independently.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		locks: make(map[string]*sync.Mutex),
	}
}

// Acquire locks the mutex for the given call and returns the unlock function.
// Callers must defer the returned function for the duration of one operation.
func (r *Registry) Acquire(callID string) func() {
	r.mu.Lock()
	l, exists := r.locks[callID]
	if !exists {
		l = &sync.Mutex{}
		r.locks[callID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
