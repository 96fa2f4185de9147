// Package repository provides reference implementations of vm.Repository:
// an in-memory adapter for tests, and a SQLite-backed adapter for
// standalone demonstration. Persistent storage is a named Non-goal of the
// vm package's core; these adapters exist to exercise the Repository
// interface end-to-end, not to be a production document store.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/chazu/bvm/vm"
)

// Memory is an in-memory vm.Repository, keyed by tag+version for drafts
// and by content digest for committed documents.
//
// Grounded on chazu-maggie/vm/dist/chunk.go's content-addressing scheme
// (a Chunk's identity is a SHA-256 hash of its content) applied to whole
// documents instead of source chunks, and on the same file's in-memory
// capability-manifest bookkeeping style for the map-based lookup.
type Memory struct {
	mu      sync.RWMutex
	drafts  map[string][]byte // "tag/version" -> CBOR document
	commits map[string][]byte // content digest (hex) -> CBOR document
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		drafts:  make(map[string][]byte),
		commits: make(map[string][]byte),
	}
}

func draftKey(ref vm.Reference) string { return ref.RefTag + "/" + ref.Version }

func (m *Memory) FetchDocument(ctx context.Context, ref vm.Reference) (vm.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var data []byte
	var ok bool
	if ref.IsDraft() {
		data, ok = m.drafts[draftKey(ref)]
	} else {
		data, ok = m.commits[ref.Digest]
	}
	if !ok {
		return nil, fmt.Errorf("repository: no document for %s", ref)
	}
	return vm.UnmarshalValue(data)
}

func (m *Memory) SaveDraft(ctx context.Context, ref vm.Reference, doc vm.Value) error {
	data, err := vm.MarshalValue(doc)
	if err != nil {
		return fmt.Errorf("repository: encoding draft %s: %w", ref, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[draftKey(ref)] = data
	return nil
}

func (m *Memory) CommitDocument(ctx context.Context, ref vm.Reference, doc vm.Value) (vm.Reference, error) {
	data, err := vm.MarshalValue(doc)
	if err != nil {
		return vm.Reference{}, fmt.Errorf("repository: encoding commit %s: %w", ref, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[digest] = data
	committed := vm.Reference{RefTag: ref.RefTag, Version: ref.Version, Digest: digest}
	delete(m.drafts, draftKey(ref))
	return committed, nil
}
