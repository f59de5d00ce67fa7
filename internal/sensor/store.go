package sensor

import (
	"sync"
	"time"
)

// Store holds the last decoded sample. A triple is always replaced as a unit, so
// readers see either the old or the new three values, never a mix.
type Store struct {
	lock    sync.RWMutex
	sample  Sample
	seq     uint64
	updated time.Time
}

func NewStore() *Store {
	return &Store{}
}

// Update replaces a single triple
func (s *Store) Update(kind TripleKind, values Triple) {
	if kind < 0 || kind >= NumKinds {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sample.SetTriple(kind, values)
	s.seq++
	s.updated = time.Now()
}

// Apply merges every valid triple of u in one critical section.
// It returns false when u carries nothing.
func (s *Store) Apply(u Update) bool {
	if u.Accepted() == 0 {
		return false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	for kind := KindAcc; kind < NumKinds; kind++ {
		if u.Valid[kind] {
			s.sample.SetTriple(kind, u.Values[kind])
		}
	}
	s.seq++
	s.updated = time.Now()
	return true
}

// Snapshot returns a copy of the current sample
func (s *Store) Snapshot() Sample {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.sample
}

// Seq returns the number of updates applied so far and the time of the last one
func (s *Store) Seq() (uint64, time.Time) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.seq, s.updated
}
