package model

import (
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// IndexStateName is the name of the first state of every crawl.
const IndexStateName = "index"

// StateName returns the conventional name for the state with the given id.
// Id 0 is always the index; later states are named state1, state2, ...
func StateName(id int) string {
	if id == 0 {
		return IndexStateName
	}
	return "state" + strconv.Itoa(id)
}

// FingerprintHash returns the hex encoded SHA3-256 digest of a fingerprint.
// The digest is a compact stand-in for the full DOM in reports and storage;
// state identity is always decided on the fingerprint itself.
func FingerprintHash(fingerprint string) string {
	sum := sha3.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// State is a distinct UI state of the application under crawl.
//
// The identifying fields (ID, Name, URL, Fingerprint, Hash) never change
// after creation. The candidate list and the attempted/failed bookkeeping
// only grow, and are guarded by the state's own mutex so that workers may
// update them without holding the graph lock.
type State struct {
	// ID is the discovery order; the index state is 0.
	ID int

	// Name is "index" for the first state and "stateN" afterwards.
	Name string

	// URL is the browser URL at the moment the state was first seen.
	URL string

	// Fingerprint is the normalized DOM that identifies the state.
	Fingerprint string

	// Hash is the SHA3-256 digest of Fingerprint.
	Hash string

	// DiscoveredAt is when the state was registered.
	DiscoveredAt time.Time

	mu         sync.Mutex
	candidates []CandidateAction
	keys       map[string]struct{}
	attempted  map[string]struct{}
	failed     []string
}

// NewState creates a state with the given identity and no candidates.
func NewState(id int, url, fingerprint string) *State {
	return &State{
		ID:           id,
		Name:         StateName(id),
		URL:          url,
		Fingerprint:  fingerprint,
		Hash:         FingerprintHash(fingerprint),
		DiscoveredAt: time.Now(),
		keys:         make(map[string]struct{}),
		attempted:    make(map[string]struct{}),
	}
}

// AddCandidates appends the actions that are not yet known to the state and
// returns the ones that were added. Every returned action has StateID set to
// the state's id.
func (s *State) AddCandidates(actions []CandidateAction) []CandidateAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]CandidateAction, 0, len(actions))
	for _, a := range actions {
		a.StateID = s.ID
		key := a.Key()
		if _, ok := s.keys[key]; ok {
			continue
		}
		s.keys[key] = struct{}{}
		s.candidates = append(s.candidates, a)
		added = append(added, a)
	}
	return added
}

// Candidates returns a copy of the state's candidate actions in discovery order.
func (s *State) Candidates() []CandidateAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CandidateAction, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// MarkAttempted records that the action has been fired (successfully or not).
func (s *State) MarkAttempted(a CandidateAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted[a.Key()] = struct{}{}
}

// IsAttempted reports whether the action has been fired.
func (s *State) IsAttempted(a CandidateAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attempted[a.Key()]
	return ok
}

// AttemptedCount returns the number of distinct actions fired from this state.
func (s *State) AttemptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempted)
}

// RecordFailure marks the action as attempted and keeps a description of
// why it could not be fired.
func (s *State) RecordFailure(a CandidateAction, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempted[a.Key()] = struct{}{}
	s.failed = append(s.failed, a.String()+": "+reason)
}

// FailedEvents returns the descriptions recorded by RecordFailure.
func (s *State) FailedEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.failed))
	copy(out, s.failed)
	return out
}
