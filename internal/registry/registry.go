// Package registry is the runtime type registry: it answers "which metadata
// does this mangled type name denote" from the metadata sections of the
// loaded images, and resolves associated type witnesses from their
// conformance tables.
//
// A Registry is built once and shared. Images may be registered while
// lookups run; lookups probe a closed-hash cache without locking, and only
// the rescan of registered sections takes the sections lock.
package registry

import (
	"hash/fnv"
	"strings"
	"sync"

	"fortio.org/safecast"

	"genspec/internal/mangle"
	"genspec/internal/typeref"
)

// objcPrefix is prepended to a name for the platform class lookup.
const objcPrefix = "_Tt"

// Origin says which lookup stage produced a metadata.
type Origin uint8

const (
	OriginSection Origin = iota
	OriginConformance
	OriginObjC
)

func (o Origin) String() string {
	switch o {
	case OriginSection:
		return "section"
	case OriginConformance:
		return "conformance"
	case OriginObjC:
		return "objc"
	default:
		return "unknown"
	}
}

// Metadata is the runtime description of one type. Metadata values are
// canonical: one pointer per type for the registry's lifetime.
type Metadata struct {
	// Name is the mangled type name.
	Name string
	Type *typeref.TypeRef
	Kind RecordKind
	// Origin is the lookup stage that first produced this metadata.
	Origin Origin
	// Image and Record locate the record the metadata came from.
	Image  string
	Record uint32
	// Instantiated marks metadata built from a resilient type's pattern.
	Instantiated bool
}

// cacheEntry is one slot of the closed-hash lookup cache.
type cacheEntry struct {
	name string
	md   *Metadata
}

// Registry holds the registered images and the lookup caches.
type Registry struct {
	// hash maps names to cache buckets. Tests replace it to force collisions.
	hash func(string) uint64

	cache sync.Map // uint64 -> *cacheEntry

	// mu guards sections, the only state shared with registration.
	mu       sync.Mutex
	sections []*section

	// foreign canonicalizes non-unique metadata, first registration wins.
	foreign sync.Map // mangled name -> *Metadata
	// resilient holds metadata instantiated from descriptor patterns.
	resilient sync.Map // mangled name -> *Metadata
	// witnesses indexes conformances by conforming type and protocol.
	witnesses sync.Map // witnessKey -> *parsedConformance
	// objc is the platform class table, by runtime name.
	objc sync.Map // string -> *Metadata
}

type witnessKey struct {
	typeName string
	proto    typeref.ProtocolRef
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{hash: hashName}
}

func hashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// RegisterImage enqueues img's metadata section for later lookups and
// publishes its conformances and classes. A conformance already registered
// for the same type and protocol is kept.
func (r *Registry) RegisterImage(img *Image) error {
	sec, err := parseImage(img)
	if err != nil {
		return err
	}
	for i := range sec.confs {
		c := &sec.confs[i]
		r.witnesses.LoadOrStore(witnessKey{typeName: c.typeName, proto: c.proto}, c)
	}
	for _, name := range sec.objc {
		ref := typeref.ObjCClass(strings.TrimPrefix(name, objcPrefix))
		r.objc.LoadOrStore(name, &Metadata{
			Name:   mangle.Type(ref),
			Type:   ref,
			Kind:   UniqueDirectClass,
			Origin: OriginObjC,
			Image:  sec.name,
		})
	}
	r.mu.Lock()
	r.sections = append(r.sections, sec)
	r.mu.Unlock()
	return nil
}

// Images returns the names of the registered images in registration order.
func (r *Registry) Images() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sections))
	for i, s := range r.sections {
		out[i] = s.name
	}
	return out
}

// TypeByMangledName returns the metadata for a mangled type name, or nil.
// It probes the cache, then scans the registered sections, then the
// conformance tables. Hits from those stages are cached. A miss falls back
// to the platform class table under the prefixed name, uncached.
func (r *Registry) TypeByMangledName(name string) *Metadata {
	hash := r.hash(name)
	for {
		v, ok := r.cache.Load(hash)
		if !ok {
			break
		}
		if e := v.(*cacheEntry); e.name == name {
			return e.md
		}
		hash++
	}

	r.mu.Lock()
	found := r.searchSections(name)
	r.mu.Unlock()

	if found == nil {
		found = r.searchConformances(name)
	}

	if found != nil {
		entry := &cacheEntry{name: name, md: found}
		for {
			v, loaded := r.cache.LoadOrStore(hash, entry)
			if !loaded {
				break
			}
			// Another lookup cached this name first.
			if e := v.(*cacheEntry); e.name == name {
				return e.md
			}
			hash++
		}
		return found
	}

	if v, ok := r.objc.Load(objcPrefix + name); ok {
		return v.(*Metadata)
	}
	return nil
}

// TypeByName mangles t and looks it up.
func (r *Registry) TypeByName(t *typeref.TypeRef) *Metadata {
	return r.TypeByMangledName(mangle.Type(t))
}

// searchSections scans every record of every section in registration
// order. The caller holds r.mu.
func (r *Registry) searchSections(name string) *Metadata {
	for _, sec := range r.sections {
		for i := range sec.records {
			rec := &sec.records[i]
			if rec.mangled != name {
				continue
			}
			if md := r.canonical(sec, i, rec); md != nil {
				return md
			}
		}
	}
	return nil
}

// canonical returns the metadata a matching record denotes, or nil when the
// record cannot produce one.
func (r *Registry) canonical(sec *section, idx int, rec *parsedRecord) *Metadata {
	index, err := safecast.Conv[uint32](idx)
	if err != nil {
		return nil
	}
	md := &Metadata{
		Name:   rec.mangled,
		Type:   rec.ref,
		Kind:   rec.Kind,
		Origin: OriginSection,
		Image:  sec.name,
		Record: index,
	}
	switch rec.Kind {
	case UniqueDirectType:
		return md
	case NonuniqueDirectType:
		v, _ := r.foreign.LoadOrStore(rec.mangled, md)
		return v.(*Metadata)
	case UniqueDirectClass:
		if rec.Absent {
			return nil
		}
		return md
	case NominalDescriptor:
		if !rec.Pattern || rec.Generic {
			return nil
		}
		md.Instantiated = true
		v, _ := r.resilient.LoadOrStore(rec.mangled, md)
		return v.(*Metadata)
	}
	return nil
}

// searchConformances matches name against the conforming types of the
// registered conformance tables. Generic types are not resolved here.
func (r *Registry) searchConformances(name string) *Metadata {
	var found *Metadata
	r.witnesses.Range(func(_, v any) bool {
		c := v.(*parsedConformance)
		if c.mangled != name {
			return true
		}
		found = &Metadata{
			Name:   name,
			Type:   typeref.Nominal(c.typeName, nil),
			Kind:   UniqueDirectType,
			Origin: OriginConformance,
		}
		return false
	})
	return found
}

// LookupWitness returns the type typeName binds to member in its
// conformance to proto.
func (r *Registry) LookupWitness(typeName, member string, proto typeref.ProtocolRef) (*typeref.TypeRef, bool) {
	v, ok := r.witnesses.Load(witnessKey{typeName: typeName, proto: proto})
	if !ok {
		return nil, false
	}
	w, ok := v.(*parsedConformance).witnesses[member]
	return w, ok
}

var _ typeref.WitnessResolver = (*Registry)(nil)
