// Package memory is an in-process archive.Store for tests and local runs.
package memory

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/chaoschain/gateway/archive"
	"github.com/chaoschain/gateway/chain"
)

var _ archive.Store = (*Store)(nil)

// Store keeps uploads in a map. Uploads are content addressed, so
// uploading the same bytes twice returns the same id.
type Store struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	status    map[string]archive.Status
	autoOK    bool
	uploadErr []error
	uploads   int
	calls     int
}

// New returns a Store whose uploads are confirmed immediately.
func New() *Store {
	return &Store{
		blobs:  make(map[string][]byte),
		status: make(map[string]archive.Status),
		autoOK: true,
	}
}

// NewDeferred returns a Store whose uploads stay PENDING until Confirm is
// called.
func NewDeferred() *Store {
	s := New()
	s.autoOK = false
	return s
}

// FailUpload queues errors for the next Upload calls.
func (s *Store) FailUpload(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErr = append(s.uploadErr, errs...)
}

// Upload implements archive.Store.
func (s *Store) Upload(_ context.Context, data []byte, _ map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.uploadErr) > 0 {
		err := s.uploadErr[0]
		s.uploadErr = s.uploadErr[1:]
		return "", err
	}
	h := chain.Keccak256(data)
	uid := hex.EncodeToString(h[:])
	if _, ok := s.blobs[uid]; !ok {
		s.blobs[uid] = append([]byte(nil), data...)
		if s.autoOK {
			s.status[uid] = archive.StatusConfirmed
		} else {
			s.status[uid] = archive.StatusPending
		}
	}
	s.uploads++
	return uid, nil
}

// Status implements archive.Store.
func (s *Store) Status(_ context.Context, uploadID string) (archive.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	st, ok := s.status[uploadID]
	if !ok {
		return "", archive.ErrUnknownUpload
	}
	return st, nil
}

// Confirm marks an upload durable.
func (s *Store) Confirm(uploadID string) {
	s.setStatus(uploadID, archive.StatusConfirmed)
}

// Fail marks an upload as lost.
func (s *Store) Fail(uploadID string) {
	s.setStatus(uploadID, archive.StatusFailed)
}

// ConfirmAll marks every pending upload durable.
func (s *Store) ConfirmAll() { s.setAll(archive.StatusConfirmed) }

// FailAll marks every pending upload as lost.
func (s *Store) FailAll() { s.setAll(archive.StatusFailed) }

func (s *Store) setAll(st archive.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, cur := range s.status {
		if cur == archive.StatusPending {
			s.status[uid] = st
		}
	}
}

func (s *Store) setStatus(uploadID string, st archive.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[uploadID]; ok {
		s.status[uploadID] = st
	}
}

// Get returns the stored bytes.
func (s *Store) Get(uploadID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[uploadID]
	return b, ok
}

// Uploads returns the number of successful Upload calls.
func (s *Store) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Calls returns the number of Upload and Status invocations.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
