package imagestore

import (
	"sync"
)

// Store deduplicates uploaded reference images by content fingerprint and
// tracks the ordered selection attached to the next generation request.
//
// A fingerprint maps to exactly one payload for the lifetime of the session.
// Re-adding a known payload is a no-op on the backing map but still appends
// to the selection, so duplicates within one selection keep their positions.
type Store struct {
	mu        sync.Mutex
	images    map[string]string
	selection []string
}

// AddResult reports the outcome of one payload in a batch upload.
type AddResult struct {
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Err         error  `json:"-"`
}

func NewStore() *Store {
	return &Store{images: make(map[string]string)}
}

// Add fingerprints the payload, stores it if unseen, and appends the
// fingerprint to the current selection. The fingerprint is returned so the
// caller can key a preview thumbnail by it.
func (s *Store) Add(payload string) (string, error) {
	fp, err := Fingerprint(payload)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[fp]; !ok {
		s.images[fp] = payload
	}
	s.selection = append(s.selection, fp)
	return fp, nil
}

// AddAll adds every payload, collecting per-item results. A payload that
// fails hashing is reported on its result and does not block the rest.
func (s *Store) AddAll(payloads []string) []AddResult {
	results := make([]AddResult, len(payloads))
	for i, payload := range payloads {
		fp, err := s.Add(payload)
		results[i] = AddResult{Index: i, Fingerprint: fp, Err: err}
	}
	return results
}

// ResetSelection clears the current selection. Previously stored images stay
// available for reuse within the session.
func (s *Store) ResetSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
}

// Selection returns a copy of the currently selected fingerprints, in order.
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return nil
	}
	return append([]string(nil), s.selection...)
}

// ResolveSelection maps the current selection, in order, to stored payloads.
// An empty selection resolves to nil so the request field is omitted rather
// than sent as an empty list.
func (s *Store) ResolveSelection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.selection) == 0 {
		return nil
	}
	payloads := make([]string, 0, len(s.selection))
	for _, fp := range s.selection {
		if payload, ok := s.images[fp]; ok {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

// Payload returns the stored payload for a fingerprint.
func (s *Store) Payload(fp string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.images[fp]
	return payload, ok
}

// Size reports how many distinct images the store holds.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}
