package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"txguard/internal/model"
	"txguard/internal/normalize"
)

func TestBuildProfiles(t *testing.T) {
	profiles, err := BuildProfiles([]model.Transaction{
		tx("u2", 300, "10:00", "Chennai"),
		tx("u1", 1000, "10:00", "Chennai"),
		tx("u1", 2000, "10:00", "Chennai"),
		tx("u1", 2500, "10:00", "Chennai"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if profiles.Len() != 2 {
		t.Fatalf("expected 2 users, got %d", profiles.Len())
	}
	prof, err := profiles.Profile("u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !prof.Average.Equal(decimal.RequireFromString("1833.3333333333333333")) {
		t.Fatalf("unexpected average %s", prof.Average)
	}
	if !prof.Total.Equal(decimal.NewFromInt(5500)) || prof.Count != 3 {
		t.Fatalf("unexpected total %s over %d rows", prof.Total, prof.Count)
	}
	users := profiles.Users()
	if users[0].UserID != "u2" || users[1].UserID != "u1" || users[1].Count != 3 {
		t.Fatalf("users not in first-appearance order: %+v", users)
	}
}

func TestProfileLookupUnknownUser(t *testing.T) {
	profiles, err := BuildProfiles(nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = profiles.Profile("nobody")
	var missing *MissingDataError
	if !errors.As(err, &missing) || missing.UserID != "nobody" {
		t.Fatalf("expected missing data error, got %v", err)
	}
	var nilStore *ProfileStore
	if _, err := nilStore.Profile("nobody"); !errors.As(err, &missing) {
		t.Fatalf("nil store must report missing data, got %v", err)
	}
}

func TestBuildProfilesRejectsBadRows(t *testing.T) {
	bad := tx("u1", 0, "10:00", "Chennai")
	bad.Amount = decimal.NewFromInt(-1)
	bad.Row = 4
	_, err := BuildProfiles([]model.Transaction{bad})
	var verr *normalize.ValidationError
	if !errors.As(err, &verr) || verr.Row != 4 || verr.Field != normalize.FieldAmount {
		t.Fatalf("expected amount validation error on row 4, got %v", err)
	}
}

func TestBuildProfilesRejectsOutOfRangeAmount(t *testing.T) {
	bad := tx("u1", 0, "10:00", "Chennai")
	bad.Amount = decimal.New(1, 400000000)
	bad.Row = 2
	_, err := BuildProfiles([]model.Transaction{bad})
	var verr *normalize.ValidationError
	if !errors.As(err, &verr) || verr.Row != 2 || verr.Field != normalize.FieldAmount {
		t.Fatalf("expected amount validation error on row 2, got %v", err)
	}
}

func TestNewProfileStoreIgnoresEmptyProfiles(t *testing.T) {
	profiles := NewProfileStore(
		model.UserProfile{UserID: "u1", Count: 2, Total: decimal.NewFromInt(10), Average: decimal.NewFromInt(5)},
		model.UserProfile{UserID: "u2"},
	)
	if prof, err := profiles.Profile("u1"); err != nil || !prof.Average.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected profile %+v (%v)", prof, err)
	}
	if _, err := profiles.Profile("u2"); err == nil {
		t.Fatalf("profile with no transactions must not answer lookups")
	}
}
