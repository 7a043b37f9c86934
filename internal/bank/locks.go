package bank

import "sync"

// refLocks hands out one mutex per artifact reference, so trust updates on
// the same ref serialize while updates on different refs never contend.
// Entries are never evicted; the set is bounded by the artifact count.
type refLocks struct {
	mus sync.Map // ref -> *sync.Mutex
}

func (l *refLocks) lock(ref string) func() {
	v, _ := l.mus.LoadOrStore(ref, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
