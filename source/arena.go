package source

import (
	"sort"
	"sync"

	"github.com/dh1tw/gaplessAudio/audioerr"
)

// Index addresses an actor inside of an Arena. The zero Index addresses
// no actor.
type Index uint64

// SourceID is the identity under which the receiver of outbound messages
// knows a root actor.
type SourceID int64

// Arena owns all actors of a backend. Actors refer to each other only by
// Index; the external SourceID of an actor is a separate binding which
// can be transferred to another actor.
type Arena struct {
	sync.RWMutex
	next   Index
	actors map[Index]*Actor
	ids    map[SourceID]Index
	idOf   map[Index]SourceID
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{
		actors: make(map[Index]*Actor),
		ids:    make(map[SourceID]Index),
		idOf:   make(map[Index]SourceID),
	}
}

// insert stores a and assigns its Index. The actor is removed once its
// destroy event fired.
func (ar *Arena) insert(a *Actor) Index {
	ar.Lock()
	ar.next++
	idx := ar.next
	ar.actors[idx] = a
	ar.Unlock()
	return idx
}

// watch removes the actor at idx as soon as it has been destroyed.
func (ar *Arena) watch(idx Index, destroyed <-chan interface{}) {
	go func() {
		for range destroyed {
		}
		ar.Remove(idx)
	}()
}

// Bind makes the actor at idx reachable under id.
func (ar *Arena) Bind(id SourceID, idx Index) error {
	ar.Lock()
	defer ar.Unlock()
	if _, ok := ar.actors[idx]; !ok {
		return audioerr.Invariantf("no actor at index %d", idx)
	}
	if _, ok := ar.ids[id]; ok {
		return audioerr.Invariantf("source id %d is already bound", id)
	}
	ar.ids[id] = idx
	ar.idOf[idx] = id
	return nil
}

// Get returns the actor at idx.
func (ar *Arena) Get(idx Index) (*Actor, bool) {
	ar.RLock()
	defer ar.RUnlock()
	a, ok := ar.actors[idx]
	return a, ok
}

// Lookup returns the actor bound to id.
func (ar *Arena) Lookup(id SourceID) (*Actor, bool) {
	ar.RLock()
	defer ar.RUnlock()
	idx, ok := ar.ids[id]
	if !ok {
		return nil, false
	}
	a, ok := ar.actors[idx]
	return a, ok
}

// IDOf returns the SourceID bound to idx.
func (ar *Arena) IDOf(idx Index) (SourceID, bool) {
	ar.RLock()
	defer ar.RUnlock()
	id, ok := ar.idOf[idx]
	return id, ok
}

// TransferID rebinds the SourceID of from to the actor at to. It returns
// false if from had no SourceID.
func (ar *Arena) TransferID(from, to Index) (SourceID, bool) {
	ar.Lock()
	defer ar.Unlock()
	id, ok := ar.idOf[from]
	if !ok {
		return 0, false
	}
	delete(ar.idOf, from)
	ar.ids[id] = to
	ar.idOf[to] = id
	return id, true
}

// Remove drops the actor at idx together with its SourceID binding.
func (ar *Arena) Remove(idx Index) {
	ar.Lock()
	defer ar.Unlock()
	delete(ar.actors, idx)
	if id, ok := ar.idOf[idx]; ok {
		delete(ar.idOf, idx)
		if ar.ids[id] == idx {
			delete(ar.ids, id)
		}
	}
}

// Len returns the number of actors in the arena.
func (ar *Arena) Len() int {
	ar.RLock()
	defer ar.RUnlock()
	return len(ar.actors)
}

// Bound returns all bound SourceIDs in ascending order.
func (ar *Arena) Bound() []SourceID {
	ar.RLock()
	defer ar.RUnlock()
	ids := make([]SourceID, 0, len(ar.ids))
	for id := range ar.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
