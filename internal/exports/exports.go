// Package exports stores the prespecialized symbols a support module
// exports, so later debug builds can link against them instead of cloning.
package exports

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when the Index encoding changes.
const schemaVersion uint16 = 1

// Index is the on-disk export list of one module.
type Index struct {
	Schema  uint16   `msgpack:"schema"`
	Module  string   `msgpack:"module"`
	Symbols []string `msgpack:"symbols"`
}

// New returns an index of the given symbols, sorted and deduplicated.
func New(module string, symbols []string) *Index {
	out := slices.Clone(symbols)
	slices.Sort(out)
	return &Index{Schema: schemaVersion, Module: module, Symbols: slices.Compact(out)}
}

// Write atomically replaces path with idx.
func (idx *Index) Write(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()
	out := *idx
	out.Schema = schemaVersion
	if err := msgpack.NewEncoder(f).Encode(&out); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Load reads an index written by Write.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var idx Index
	if err := msgpack.NewDecoder(f).Decode(&idx); err != nil {
		return nil, fmt.Errorf("exports: %s: %w", path, err)
	}
	if idx.Schema != schemaVersion {
		return nil, fmt.Errorf("exports: %s: schema %d, want %d", path, idx.Schema, schemaVersion)
	}
	return &idx, nil
}

// Set answers membership over any number of indexes. It is safe for
// concurrent use once built.
type Set struct {
	mu      sync.RWMutex
	symbols map[string]string // symbol -> exporting module
}

func NewSet(idxs ...*Index) *Set {
	s := &Set{symbols: make(map[string]string)}
	for _, idx := range idxs {
		s.Add(idx)
	}
	return s
}

// LoadSet reads every path into one Set.
func LoadSet(paths ...string) (*Set, error) {
	s := NewSet()
	for _, p := range paths {
		idx, err := Load(p)
		if err != nil {
			return nil, err
		}
		s.Add(idx)
	}
	return s, nil
}

// Add merges idx. A symbol already exported by another module keeps its
// first module.
func (s *Set) Add(idx *Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range idx.Symbols {
		if _, ok := s.symbols[sym]; !ok {
			s.symbols[sym] = idx.Module
		}
	}
}

func (s *Set) Contains(symbol string) bool {
	_, ok := s.Module(symbol)
	return ok
}

// Module returns the module exporting symbol.
func (s *Set) Module(symbol string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.symbols[symbol]
	return m, ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}
