package cache

import (
	"container/list"
)

// arcPolicy implements the Adaptive Replacement Cache eviction policy.
//
// Four lists partition the key space: T1 holds resident keys seen once
// recently, T2 holds resident keys seen at least twice, and B1/B2 are ghost
// histories of keys evicted from T1/T2 (identity only, no payload). The
// adaptation parameter p is the target size of T1: workloads that keep
// hitting B1 grow p (favor recency), workloads hitting B2 shrink it (favor
// frequency).
//
// Invariants, with c the entry capacity:
//
//	T1, T2, B1, B2 pairwise disjoint
//	len(T1)+len(T2) <= c    (enforced by the layer's eviction loop)
//	len(T1)+len(B1) <= c
//	len(T2)+len(B2) <= c
//	0 <= p <= c
type arcPolicy struct {
	capacity int
	p        float64

	t1, t2, b1, b2 *arcList

	// victimFrom biases Victim toward one resident list after a ghost
	// hit, until the next Prepare.
	victimFrom *arcList
}

type arcList struct {
	order    *list.List // front = MRU
	elements map[string]*list.Element
}

func newArcList() *arcList {
	return &arcList{order: list.New(), elements: make(map[string]*list.Element)}
}

func (l *arcList) len() int { return l.order.Len() }

func (l *arcList) contains(key string) bool {
	_, ok := l.elements[key]
	return ok
}

func (l *arcList) pushMRU(key string) {
	l.elements[key] = l.order.PushFront(key)
}

func (l *arcList) remove(key string) bool {
	el, ok := l.elements[key]
	if !ok {
		return false
	}
	l.order.Remove(el)
	delete(l.elements, key)
	return true
}

// popLRU removes and returns the least recently used key.
func (l *arcList) popLRU() (string, bool) {
	el := l.order.Back()
	if el == nil {
		return "", false
	}
	key := el.Value.(string)
	l.order.Remove(el)
	delete(l.elements, key)
	return key, true
}

func newARCPolicy(capacity int) *arcPolicy {
	if capacity < 1 {
		capacity = 1
	}
	return &arcPolicy{
		capacity: capacity,
		t1:       newArcList(),
		t2:       newArcList(),
		b1:       newArcList(),
		b2:       newArcList(),
	}
}

// Prepare reacts to ghost hits for the key about to be admitted: it adapts
// p, consumes the ghost entry, and biases the next Victim calls toward the
// matching resident list.
func (a *arcPolicy) Prepare(key string) {
	a.victimFrom = nil

	switch {
	case a.t1.contains(key) || a.t2.contains(key):
		// Resident overwrite; no adaptation.
	case a.b1.contains(key):
		// Recency ghost hit: grow the target for T1.
		delta := 1.0
		if a.b1.len() > 0 && a.b2.len() > a.b1.len() {
			delta = float64(a.b2.len()) / float64(a.b1.len())
		}
		a.p = a.clampP(a.p + delta)
		a.b1.remove(key)
		a.victimFrom = a.t1
	case a.b2.contains(key):
		// Frequency ghost hit: shrink the target for T1.
		delta := 1.0
		if a.b2.len() > 0 && a.b1.len() > a.b2.len() {
			delta = float64(a.b1.len()) / float64(a.b2.len())
		}
		a.p = a.clampP(a.p - delta)
		a.b2.remove(key)
		a.victimFrom = a.t2
	}
}

func (a *arcPolicy) OnGet(key string) {
	// A hit anywhere resident promotes the key to the frequent list.
	if a.t1.remove(key) || a.t2.remove(key) {
		a.t2.pushMRU(key)
		a.trimGhosts()
	}
}

func (a *arcPolicy) OnPut(key string) {
	switch {
	case a.t1.remove(key) || a.t2.remove(key):
		// Resident overwrite counts as a reuse.
		a.t2.pushMRU(key)
	case a.victimFrom != nil:
		// Ghost hit consumed in Prepare: the key has proven reuse.
		a.t2.pushMRU(key)
	default:
		// Cold insert. Ghost state is normally gone by now; drop any
		// leftovers so the lists stay disjoint.
		a.b1.remove(key)
		a.b2.remove(key)
		a.t1.pushMRU(key)
	}
	a.trimGhosts()
	a.victimFrom = nil
}

func (a *arcPolicy) OnRemove(key string) {
	// Explicit removals leave no ghost: only evictions feed the histories.
	if a.t1.remove(key) || a.t2.remove(key) {
		return
	}
	a.b1.remove(key)
	a.b2.remove(key)
}

// Victim evicts the LRU of T1 or T2, recording the evicted key's identity
// in the matching ghost list.
func (a *arcPolicy) Victim() (string, bool) {
	from := a.victimFrom
	if from == nil || from.len() == 0 {
		if a.t1.len() > 0 && (float64(a.t1.len()) > a.p || a.t2.len() == 0) {
			from = a.t1
		} else {
			from = a.t2
		}
	}

	if key, ok := from.popLRU(); ok {
		if from == a.t1 {
			a.b1.pushMRU(key)
		} else {
			a.b2.pushMRU(key)
		}
		a.trimGhosts()
		return key, true
	}

	// Preferred list drained; fall back to whichever still has entries.
	if key, ok := a.t1.popLRU(); ok {
		a.b1.pushMRU(key)
		a.trimGhosts()
		return key, true
	}
	if key, ok := a.t2.popLRU(); ok {
		a.b2.pushMRU(key)
		a.trimGhosts()
		return key, true
	}
	return "", false
}

// trimGhosts drops the oldest ghost entries once a history exceeds what the
// capacity invariants allow.
func (a *arcPolicy) trimGhosts() {
	for a.b1.len() > 0 && a.t1.len()+a.b1.len() > a.capacity {
		a.b1.popLRU()
	}
	for a.b2.len() > 0 && a.t2.len()+a.b2.len() > a.capacity {
		a.b2.popLRU()
	}
}

func (a *arcPolicy) clampP(v float64) float64 {
	if v < 0 {
		return 0
	}
	if c := float64(a.capacity); v > c {
		return c
	}
	return v
}

// arcSnapshot exposes list contents and p for invariant checks in tests.
type arcSnapshot struct {
	T1, T2, B1, B2 []string
	P              float64
	Capacity       int
}

func (a *arcPolicy) snapshot() arcSnapshot {
	keys := func(l *arcList) []string {
		out := make([]string, 0, l.len())
		for el := l.order.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(string))
		}
		return out
	}
	return arcSnapshot{
		T1:       keys(a.t1),
		T2:       keys(a.t2),
		B1:       keys(a.b1),
		B2:       keys(a.b2),
		P:        a.p,
		Capacity: a.capacity,
	}
}
