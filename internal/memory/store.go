// Package memory holds what the session remembers about the most recent
// batch: per-user spend profiles and the decisions produced for it.
package memory

import (
	"sync"
	"time"

	"txguard/internal/model"
)

type Snapshot struct {
	BatchID   string              `json:"batch_id"`
	UpdatedAt time.Time           `json:"updated_at"`
	Profiles  []model.UserProfile `json:"profiles"`
	Decisions []model.Decision    `json:"-"`
}

type Store struct {
	mu     sync.RWMutex
	latest *Snapshot
	byUser map[string]model.UserProfile
}

func NewStore() *Store {
	return &Store{byUser: make(map[string]model.UserProfile)}
}

// Update replaces the previous batch's memory entirely.
func (s *Store) Update(batchID string, profiles []model.UserProfile, decisions []model.Decision) {
	snap := &Snapshot{
		BatchID:   batchID,
		UpdatedAt: time.Now().UTC(),
		Profiles:  append([]model.UserProfile(nil), profiles...),
		Decisions: append([]model.Decision(nil), decisions...),
	}
	byUser := make(map[string]model.UserProfile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.byUser = byUser
}

func (s *Store) Get(userID string) (model.UserProfile, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byUser[userID]
	if !ok || s.latest == nil {
		return model.UserProfile{}, time.Time{}, false
	}
	return p, s.latest.UpdatedAt, true
}

// Latest returns a copy of the most recent snapshot.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Snapshot{}, false
	}
	out := *s.latest
	out.Profiles = append([]model.UserProfile(nil), s.latest.Profiles...)
	out.Decisions = append([]model.Decision(nil), s.latest.Decisions...)
	return out, true
}
