package openapi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/artpar/kalita/core/registry"
	"github.com/rs/zerolog"
)

// Service renders the document for the current snapshot and caches it until
// the snapshot changes.
type Service struct {
	gen    *Generator
	logger zerolog.Logger

	cache atomic.Pointer[cachedSpec]
	mu    sync.Mutex // serializes regeneration
}

// Document is a rendered spec with its entity tag.
type Document struct {
	JSON []byte
	ETag string
}

type cachedSpec struct {
	snap *registry.Snapshot
	doc  Document
}

// NewService wraps gen with a per-snapshot cache.
func NewService(gen *Generator, logger zerolog.Logger) *Service {
	return &Service{gen: gen, logger: logger}
}

// Document returns the rendered document for snap.
func (s *Service) Document(snap *registry.Snapshot) (Document, error) {
	if cached := s.cache.Load(); cached != nil && cached.snap == snap {
		return cached.doc, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached := s.cache.Load(); cached != nil && cached.snap == snap {
		return cached.doc, nil
	}

	data, err := s.gen.Generate(snap).ToJSON()
	if err != nil {
		return Document{}, fmt.Errorf("render openapi: %w", err)
	}
	sum := sha256.Sum256(data)
	doc := Document{JSON: data, ETag: `"` + hex.EncodeToString(sum[:])[:16] + `"`}
	s.cache.Store(&cachedSpec{snap: snap, doc: doc})
	s.logger.Debug().Int("bytes", len(data)).Msg("openapi document generated")
	return doc, nil
}

// InvalidateCache forces the next Document call to regenerate.
func (s *Service) InvalidateCache() {
	s.cache.Store(nil)
}
