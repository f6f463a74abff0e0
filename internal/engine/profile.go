package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"txguard/internal/model"
	"txguard/internal/normalize"
)

// MissingDataError is returned when a user has no aggregated spend history.
type MissingDataError struct {
	UserID string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("no spend history for user %q", e.UserID)
}

// ProfileStore maps each user to the count, total and mean of their amounts
// in one batch. It is read-only once built.
type ProfileStore struct {
	profiles map[string]model.UserProfile
	order    []string
}

// BuildProfiles aggregates the whole batch in a single pass, so every row is
// later judged against the same per-user average and total.
func BuildProfiles(batch []model.Transaction) (*ProfileStore, error) {
	p := &ProfileStore{profiles: make(map[string]model.UserProfile)}
	for _, tx := range batch {
		if err := normalize.Validate(tx); err != nil {
			return nil, err
		}
		prof, ok := p.profiles[tx.UserID]
		if !ok {
			prof = model.UserProfile{UserID: tx.UserID, Total: decimal.Zero}
			p.order = append(p.order, tx.UserID)
		}
		prof.Count++
		prof.Total = prof.Total.Add(tx.Amount)
		p.profiles[tx.UserID] = prof
	}
	// Average is for display; the amount rule compares against Total and Count.
	for id, prof := range p.profiles {
		prof.Average = prof.Total.Div(decimal.NewFromInt(int64(prof.Count)))
		p.profiles[id] = prof
	}
	return p, nil
}

// NewProfileStore rebuilds a store from previously computed profiles, e.g. a
// session snapshot. Entries with no transactions are kept but never answer lookups.
func NewProfileStore(profiles ...model.UserProfile) *ProfileStore {
	p := &ProfileStore{profiles: make(map[string]model.UserProfile, len(profiles))}
	for _, prof := range profiles {
		if _, ok := p.profiles[prof.UserID]; !ok {
			p.order = append(p.order, prof.UserID)
		}
		p.profiles[prof.UserID] = prof
	}
	return p
}

// Profile returns the user's batch aggregates, or MissingDataError when the
// user has no transactions in the store.
func (p *ProfileStore) Profile(userID string) (model.UserProfile, error) {
	if p == nil {
		return model.UserProfile{}, &MissingDataError{UserID: userID}
	}
	prof, ok := p.profiles[userID]
	if !ok || prof.Count <= 0 {
		return model.UserProfile{}, &MissingDataError{UserID: userID}
	}
	return prof, nil
}

// Users lists profiles in order of each user's first appearance.
func (p *ProfileStore) Users() []model.UserProfile {
	if p == nil {
		return nil
	}
	out := make([]model.UserProfile, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.profiles[id])
	}
	return out
}

func (p *ProfileStore) Len() int {
	if p == nil {
		return 0
	}
	return len(p.profiles)
}
