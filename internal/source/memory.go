package source

import (
	"context"
	"sync"

	opserrors "github.com/memeplatform/memeops/internal/errors"
	"github.com/memeplatform/memeops/internal/records"
)

// MemorySource is an in-memory Source for testing.
type MemorySource struct {
	mu        sync.Mutex
	documents map[records.Kind][]records.Document

	// Test helper fields for simulating failures
	pingErr  error
	fetchErr map[records.Kind]error
	fetched  []records.Kind
	closed   bool
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		documents: make(map[records.Kind][]records.Document),
		fetchErr:  make(map[records.Kind]error),
	}
}

// Add appends documents of kind.
func (s *MemorySource) Add(kind records.Kind, docs ...records.Document) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[kind] = append(s.documents[kind], docs...)
	return s
}

// SetUnavailable makes Ping fail as if the store were unreachable.
func (s *MemorySource) SetUnavailable(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = cause
}

// SetFetchError makes Fetch of kind fail with err.
func (s *MemorySource) SetFetchError(kind records.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr[kind] = err
}

// Fetched reports the kinds fetched so far, in order.
func (s *MemorySource) Fetched() []records.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]records.Kind(nil), s.fetched...)
}

// Closed reports whether Close was called.
func (s *MemorySource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MemorySource) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingErr != nil {
		return opserrors.NewSourceUnavailable(s.pingErr)
	}
	return nil
}

func (s *MemorySource) Fetch(ctx context.Context, kind records.Kind) ([]records.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, kind)
	if err := s.fetchErr[kind]; err != nil {
		return nil, opserrors.NewFetchFailed(kind.Label(), err)
	}

	docs := make([]records.Document, 0, len(s.documents[kind]))
	for _, d := range s.documents[kind] {
		cp := make(records.Document, len(d))
		for k, v := range d {
			cp[k] = v
		}
		docs = append(docs, cp)
	}
	return docs, nil
}

func (s *MemorySource) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
