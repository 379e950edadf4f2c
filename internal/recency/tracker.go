// Package recency maintains most-recently-used orderings for the switcher.
// Two independent trackers exist at runtime, one keyed by process id and one
// keyed by window id; they share no state and no lock.
package recency

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Tracker is an ordered, deduplicated most-recently-used list. Index 0 is the
// most recent identity. All mutations and reads are serialized through the
// tracker's own lock.
type Tracker[ID comparable] struct {
	mu     sync.Mutex
	order  []ID
	seeded chan struct{}
	once   sync.Once
}

func New[ID comparable]() *Tracker[ID] {
	return &Tracker[ID]{seeded: make(chan struct{})}
}

// Bump moves id to the front, inserting it if absent. Bumping the front
// entry is a no-op.
func (t *Tracker[ID]) Bump(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markSeededLocked()
	if len(t.order) > 0 && t.order[0] == id {
		return
	}
	for i, cur := range t.order {
		if cur == id {
			copy(t.order[1:i+1], t.order[:i])
			t.order[0] = id
			return
		}
	}
	t.order = append([]ID{id}, t.order...)
}

// Prune drops every identity not present in valid.
func (t *Tracker[ID]) Prune(valid map[ID]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	for _, id := range t.order {
		if _, ok := valid[id]; ok {
			kept = append(kept, id)
		}
	}
	t.order = kept
}

// Rank returns the identity's recency rank. Rank 0 is most recent. The
// boolean is false when the identity has never been seen.
func (t *Tracker[ID]) Rank(id ID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.order {
		if cur == id {
			return i, true
		}
	}
	return 0, false
}

// Seed populates an empty tracker once from a best-effort snapshot, most
// recent first. It is ignored once the list is non-empty, and is overwritten
// by real usage as soon as any Bump occurs. Seed with no ids still marks the
// tracker as seeded so first-activation waits do not hang.
func (t *Tracker[ID]) Seed(ids []ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.markSeededLocked()
	if len(t.order) > 0 {
		return false
	}
	seen := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t.order = append(t.order, id)
	}
	return true
}

// Seeded is closed after the first Seed or Bump.
func (t *Tracker[ID]) Seeded() <-chan struct{} {
	return t.seeded
}

func (t *Tracker[ID]) markSeededLocked() {
	t.once.Do(func() { close(t.seeded) })
}

// Snapshot returns a copy of the current ordering.
func (t *Tracker[ID]) Snapshot() []ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ID, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Tracker[ID]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Item is one ordering input: an identity plus the metadata the comparator
// needs. Pos must be the item's index in the caller's input list.
type Item[ID comparable] struct {
	ID        ID
	Name      string
	Frontmost bool
	Pos       int
}

// Phase is one best-effort z-order query. The boolean reports whether the
// query produced a usable answer; a false result simply skips the phase.
type Phase[ID comparable] func(ctx context.Context) ([]ID, bool)

// OrderConfig tunes Order for one identity space.
type OrderConfig[ID comparable] struct {
	// FrontmostFirst makes the currently frontmost item sort before
	// everything else, ahead of recency. Used by the app space only.
	FrontmostFirst bool
	// Phases derive ranks for identities with no recency history. Each phase
	// appends after the highest rank already assigned, preserving encounter
	// order within the phase.
	Phases []Phase[ID]
}

// Order sorts items by recency. Primary key is the tracker rank; identities
// without a rank get one derived from the z-order phases; anything still
// unranked sorts last. Ties break by input position, then by case-insensitive
// name, so the result is total and deterministic.
func (t *Tracker[ID]) Order(ctx context.Context, items []Item[ID], cfg OrderConfig[ID]) []Item[ID] {
	ranks := make(map[ID]int, len(items))
	next := 0
	t.mu.Lock()
	for _, id := range t.order {
		ranks[id] = next
		next++
	}
	t.mu.Unlock()

	unresolved := 0
	for _, it := range items {
		if _, ok := ranks[it.ID]; !ok {
			unresolved++
		}
	}
	for _, phase := range cfg.Phases {
		if unresolved == 0 {
			break
		}
		ids, ok := phase(ctx)
		if !ok {
			continue
		}
		wanted := make(map[ID]struct{}, len(items))
		for _, it := range items {
			if _, known := ranks[it.ID]; !known {
				wanted[it.ID] = struct{}{}
			}
		}
		for _, id := range ids {
			if _, want := wanted[id]; !want {
				continue
			}
			delete(wanted, id)
			ranks[id] = next
			next++
			unresolved--
		}
	}

	out := make([]Item[ID], len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if cfg.FrontmostFirst && a.Frontmost != b.Frontmost {
			return a.Frontmost
		}
		ra, aok := ranks[a.ID]
		rb, bok := ranks[b.ID]
		if aok != bok {
			return aok
		}
		if aok && bok && ra != rb {
			return ra < rb
		}
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return out
}
