package specialize

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"genspec/internal/cloner"
	"genspec/internal/mangle"
	"genspec/internal/reabstract"
	"genspec/internal/sil"
	"genspec/internal/typeref"
)

// Entry is one specialization of Orig under Subs.
type Entry struct {
	Key  string
	Orig *sil.Function
	Subs typeref.GenericArgumentMap
	Func *sil.Function
	Plan *reabstract.Plan

	// Linked marks a prespecialized declaration exported by a dependency.
	Linked bool
	// Created marks a body cloned by this cache.
	Created bool
	// KeptPublic marks a clone exported from the support module.
	KeptPublic bool
}

// Key returns the canonical cache key of orig under subs. It is also the
// symbol of the specialization.
func Key(orig *sil.Function, subs typeref.GenericArgumentMap) string {
	return mangle.Specialization(orig.ID, subs, true)
}

// Cache maps specialization keys to entries. At most one entry exists per
// key; concurrent requests for a missing key share one creation.
type Cache struct {
	module   *sil.Module
	opts     Options
	oracle   reabstract.LayoutOracle
	resolver typeref.WitnessResolver
	cloner   *cloner.Cloner
	linker   *linker

	mu      sync.RWMutex
	entries map[string]*Entry
	flight  singleflight.Group
}

func NewCache(m *sil.Module, opts Options, oracle reabstract.LayoutOracle, resolver typeref.WitnessResolver) *Cache {
	opts = opts.normalized()
	return &Cache{
		module:   m,
		opts:     opts,
		oracle:   oracle,
		resolver: resolver,
		cloner:   cloner.New(resolver),
		linker:   &linker{opts: opts, module: m},
		entries:  make(map[string]*Entry),
	}
}

type outcome struct {
	entry  *Entry
	reason SkipReason
}

// GetOrCreate returns the specialization of orig under subs. A nil entry
// with a reason means the call keeps its generic callee. An error is a
// *ConsistencyError or a cloning failure and stops the run.
func (c *Cache) GetOrCreate(orig *sil.Function, subs typeref.GenericArgumentMap) (*Entry, SkipReason, error) {
	key := Key(orig, subs)
	if e, ok := c.lookup(key); ok {
		if err := c.verify(e); err != nil {
			return nil, SkipNone, err
		}
		return e, SkipNone, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return outcome{entry: e}, nil
		}
		out, err := c.create(key, orig, subs)
		if err != nil {
			return nil, err
		}
		if out.entry != nil {
			c.mu.Lock()
			c.entries[key] = out.entry
			c.mu.Unlock()
		}
		return out, nil
	})
	if err != nil {
		return nil, SkipNone, err
	}
	out := v.(outcome) //nolint:errcheck
	return out.entry, out.reason, nil
}

func (c *Cache) lookup(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) verify(e *Entry) error {
	if !c.opts.VerifyCache {
		return nil
	}
	plan, err := reabstract.ForSignature(e.Orig, e.Subs, c.resolver, c.oracle)
	if err != nil {
		return &ConsistencyError{Key: e.Key, Cached: e.Func.Type}
	}
	return checkSignature(e.Key, e.Func, plan)
}

func checkSignature(key string, fn *sil.Function, plan *reabstract.Plan) error {
	if !fn.Type.Equal(plan.Specialized) {
		return &ConsistencyError{Key: key, Cached: fn.Type, Fresh: plan.Specialized}
	}
	return nil
}

func (c *Cache) skip(err error) (outcome, error) {
	if reason, ok := skipReasonOf(err); ok {
		return outcome{reason: reason}, nil
	}
	return outcome{}, err
}

func (c *Cache) create(key string, orig *sil.Function, subs typeref.GenericArgumentMap) (outcome, error) {
	if c.opts.Level == OptNone {
		return outcome{reason: SkipOptNone}, nil
	}
	plan, err := reabstract.ForSignature(orig, subs, c.resolver, c.oracle)
	if err != nil {
		return c.skip(err)
	}
	entry := &Entry{Key: key, Orig: orig, Subs: subs.Clone(), Plan: plan}

	if existing, ok := c.module.LookupFunction(key); ok {
		if err := checkSignature(key, existing, plan); err != nil {
			return outcome{}, err
		}
		entry.Func = existing
		entry.Linked = existing.IsExternalDeclaration()
		return outcome{entry: entry}, nil
	}
	if decl, ok := c.linker.lookupPrespecialized(orig, key, plan); ok {
		if err := checkSignature(key, decl, plan); err != nil {
			return outcome{}, err
		}
		entry.Func = decl
		entry.Linked = true
		return outcome{entry: entry}, nil
	}

	if plan, err = reabstract.ForFunction(orig, subs, c.resolver, c.oracle); err != nil {
		return c.skip(err)
	}
	entry.Plan = plan
	fn, err := c.cloner.Clone(orig, plan, subs, key)
	if err != nil {
		return outcome{}, fmt.Errorf("specialize: %w", err)
	}
	kept := c.linker.keepAsPublic(fn)
	winner, inserted := c.module.AddFunctionIfAbsent(fn)
	if !inserted {
		if err := checkSignature(key, winner, plan); err != nil {
			return outcome{}, err
		}
	}
	entry.Func = winner
	entry.Created = inserted
	entry.KeptPublic = kept && inserted
	return outcome{entry: entry}, nil
}

// Entries returns every entry ordered by key.
func (c *Cache) Entries() []*Entry {
	c.mu.RLock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Entry) int { return strings.Compare(a.Key, b.Key) })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
