package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNormal     Status = "NORMAL"
	StatusSuspicious Status = "SUSPICIOUS"
	StatusFraud      Status = "FRAUD"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNormal, StatusSuspicious, StatusFraud:
		return true
	}
	return false
}

type Action string

const (
	ActionBlockAndAlert Action = "Blocked & Alerted"
	ActionVerification  Action = "Verification"
	ActionNone          Action = "No Action"
)

// ActionFor maps a classification to the action taken for it.
func ActionFor(s Status) Action {
	switch s {
	case StatusFraud:
		return ActionBlockAndAlert
	case StatusSuspicious:
		return ActionVerification
	default:
		return ActionNone
	}
}

// Transaction is one validated input row. Row is the 1-based position in the
// submitted batch and is zero for transactions built outside a batch.
type Transaction struct {
	Row      int             `json:"row,omitempty"`
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Time     string          `json:"time"`
	Location string          `json:"location"`
	Merchant string          `json:"merchant"`
	Category string          `json:"category"`
}

type Decision struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Time      string          `json:"time"`
	Location  string          `json:"location"`
	Merchant  string          `json:"merchant"`
	Category  string          `json:"category"`
	Status    Status          `json:"status"`
	RiskScore int             `json:"risk_score"`
	Reasons   []string        `json:"reasons"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batch_id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	Action    Action    `json:"action"`
}

type UserProfile struct {
	UserID  string          `json:"user_id"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Average decimal.Decimal `json:"average"`
}
