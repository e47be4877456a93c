package cache

import (
	"container/list"

	"github.com/nerfedge/scenecache/pkg/types"
)

// Policy decides which key a layer evicts when it runs out of room. A layer
// owns the key/value storage; the policy owns only ordering metadata.
//
// Call protocol (all calls happen under the layer lock):
//   - Prepare(key) runs before admitting key, before any Victim calls made
//     to create room for it. Adaptive policies use it to react to ghost
//     hits; the simple policies ignore it.
//   - Victim selects the next eviction victim and removes it from the
//     policy's own bookkeeping. The layer deletes the entry afterwards and
//     does not call OnRemove for it.
//   - OnPut records that key was admitted (or overwritten in place).
//   - OnGet records a hit.
//   - OnRemove records a removal outside eviction (delete, expiry,
//     invalidation).
type Policy interface {
	Prepare(key string)
	OnGet(key string)
	OnPut(key string)
	OnRemove(key string)
	Victim() (string, bool)
}

// NewPolicy creates the policy implementation for the given variant.
// capacity is the layer's entry budget, used by the adaptive policy to size
// its lists. Unknown variants fall back to LRU.
func NewPolicy(p types.EvictionPolicy, capacity int) Policy {
	switch p {
	case types.EvictionLFU:
		return newLFUPolicy()
	case types.EvictionFIFO:
		return newFIFOPolicy()
	case types.EvictionAdaptive:
		return newARCPolicy(capacity)
	default:
		return newLRUPolicy()
	}
}

// lruPolicy evicts the least recently used key.
type lruPolicy struct {
	order    *list.List // front = most recent
	elements map[string]*list.Element
}

func newLRUPolicy() *lruPolicy {
	return &lruPolicy{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (p *lruPolicy) Prepare(string) {}

func (p *lruPolicy) OnGet(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *lruPolicy) OnPut(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToFront(el)
		return
	}
	p.elements[key] = p.order.PushFront(key)
}

func (p *lruPolicy) OnRemove(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.Remove(el)
		delete(p.elements, key)
	}
}

func (p *lruPolicy) Victim() (string, bool) {
	el := p.order.Back()
	if el == nil {
		return "", false
	}
	key := el.Value.(string)
	p.order.Remove(el)
	delete(p.elements, key)
	return key, true
}

// lfuPolicy evicts the key with the lowest access count, ties broken by
// oldest insertion.
type lfuPolicy struct {
	counts  map[string]int64
	seq     map[string]uint64
	nextSeq uint64
}

func newLFUPolicy() *lfuPolicy {
	return &lfuPolicy{
		counts: make(map[string]int64),
		seq:    make(map[string]uint64),
	}
}

func (p *lfuPolicy) Prepare(string) {}

func (p *lfuPolicy) OnGet(key string) {
	if _, ok := p.counts[key]; ok {
		p.counts[key]++
	}
}

func (p *lfuPolicy) OnPut(key string) {
	if _, ok := p.counts[key]; ok {
		p.counts[key]++
		return
	}
	p.counts[key] = 0
	p.seq[key] = p.nextSeq
	p.nextSeq++
}

func (p *lfuPolicy) OnRemove(key string) {
	delete(p.counts, key)
	delete(p.seq, key)
}

func (p *lfuPolicy) Victim() (string, bool) {
	if len(p.counts) == 0 {
		return "", false
	}
	var victim string
	var found bool
	for key, count := range p.counts {
		if !found {
			victim, found = key, true
			continue
		}
		switch {
		case count < p.counts[victim]:
			victim = key
		case count == p.counts[victim] && p.seq[key] < p.seq[victim]:
			victim = key
		}
	}
	delete(p.counts, victim)
	delete(p.seq, victim)
	return victim, true
}

// fifoPolicy evicts in insertion order regardless of access.
type fifoPolicy struct {
	order    *list.List // front = newest insertion
	elements map[string]*list.Element
}

func newFIFOPolicy() *fifoPolicy {
	return &fifoPolicy{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (p *fifoPolicy) Prepare(string) {}
func (p *fifoPolicy) OnGet(string)   {}

func (p *fifoPolicy) OnPut(key string) {
	// Overwrites keep the original insertion position.
	if _, ok := p.elements[key]; ok {
		return
	}
	p.elements[key] = p.order.PushFront(key)
}

func (p *fifoPolicy) OnRemove(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.Remove(el)
		delete(p.elements, key)
	}
}

func (p *fifoPolicy) Victim() (string, bool) {
	el := p.order.Back()
	if el == nil {
		return "", false
	}
	key := el.Value.(string)
	p.order.Remove(el)
	delete(p.elements, key)
	return key, true
}
