package engine

import (
	"strings"

	"github.com/shopspring/decimal"

	"txguard/internal/config"
	"txguard/internal/model"
	"txguard/internal/normalize"
)

const (
	ReasonMaxTransaction  = "Transaction exceeds maximum single-transaction limit"
	ReasonDailyLimit      = "Daily transaction limit exceeded"
	ReasonUnusualAmount   = "Unusual amount for this user"
	ReasonUnusualTime     = "Transaction at unusual time"
	ReasonUnknownLocation = "Transaction from unknown location"
	ReasonNone            = "No suspicious activity"
)

// Verdict is the outcome of evaluating one transaction.
type Verdict struct {
	Status    model.Status
	Reasons   []string
	RiskScore int
}

// Rules evaluates single transactions against one detection config.
type Rules struct {
	cfg        config.DetectionConfig
	maxAmount  decimal.Decimal
	dailyLimit decimal.Decimal
	multiplier decimal.Decimal
	known      map[string]struct{}
}

func NewRules(cfg config.DetectionConfig) *Rules {
	return &Rules{
		cfg:        cfg,
		maxAmount:  decimal.NewFromFloat(cfg.MaxTransactionAmount),
		dailyLimit: decimal.NewFromFloat(cfg.DailyLimit),
		multiplier: decimal.NewFromFloat(cfg.AmountMultiplier),
		known:      buildLocationSet(cfg.KnownLocations),
	}
}

func buildLocationSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		loc := normalizeLocation(v)
		if loc == "" {
			continue
		}
		set[loc] = struct{}{}
	}
	return set
}

func normalizeLocation(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Evaluate scores tx against the user's batch profile. The two hard limits
// short-circuit to FRAUD with a score of 100; otherwise each fired signal
// adds its weight and the sum is classified.
func (r *Rules) Evaluate(tx model.Transaction, profile model.UserProfile) (Verdict, error) {
	hour, err := normalize.ParseHour(tx.Time)
	if err != nil {
		return Verdict{}, err
	}

	if tx.Amount.GreaterThanOrEqual(r.maxAmount) {
		return hardLimit(ReasonMaxTransaction), nil
	}
	if profile.Total.GreaterThan(r.dailyLimit) {
		return hardLimit(ReasonDailyLimit), nil
	}

	risk := 0
	reasons := make([]string, 0, 3)
	if r.unusualAmount(tx.Amount, profile) {
		risk += r.cfg.Weights.UnusualAmount
		reasons = append(reasons, ReasonUnusualAmount)
	}
	if hour < r.cfg.SafeHourStart || hour > r.cfg.SafeHourEnd {
		risk += r.cfg.Weights.UnusualTime
		reasons = append(reasons, ReasonUnusualTime)
	}
	if !r.KnownLocation(tx.Location) {
		risk += r.cfg.Weights.UnknownLocation
		reasons = append(reasons, ReasonUnknownLocation)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonNone)
	}
	return Verdict{Status: r.Classify(risk), Reasons: reasons, RiskScore: risk}, nil
}

// unusualAmount reports amount > multiplier * total / count. Both sides are
// multiplied by count so the comparison stays exact.
func (r *Rules) unusualAmount(amount decimal.Decimal, profile model.UserProfile) bool {
	if profile.Count <= 0 {
		return amount.GreaterThan(profile.Average.Mul(r.multiplier))
	}
	count := decimal.NewFromInt(int64(profile.Count))
	return amount.Mul(count).GreaterThan(profile.Total.Mul(r.multiplier))
}

func hardLimit(reason string) Verdict {
	return Verdict{Status: model.StatusFraud, Reasons: []string{reason}, RiskScore: 100}
}

func (r *Rules) Classify(risk int) model.Status {
	switch {
	case risk >= r.cfg.FraudThreshold:
		return model.StatusFraud
	case risk >= r.cfg.SuspiciousThreshold:
		return model.StatusSuspicious
	default:
		return model.StatusNormal
	}
}

// KnownLocation compares case-insensitively after trimming.
func (r *Rules) KnownLocation(location string) bool {
	_, ok := r.known[normalizeLocation(location)]
	return ok
}
