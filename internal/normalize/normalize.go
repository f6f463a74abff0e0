// Package normalize turns raw batch rows into validated transactions.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"txguard/internal/model"
)

const (
	FieldUserID   = "user_id"
	FieldAmount   = "amount"
	FieldTime     = "time"
	FieldLocation = "location"
	FieldMerchant = "merchant"
	FieldCategory = "category"
)

// RequiredColumns lists the columns every tabular batch must carry.
var RequiredColumns = []string{FieldUserID, FieldAmount, FieldTime, FieldLocation, FieldMerchant, FieldCategory}

// Record is a row as received, before any type checks.
type Record struct {
	Row      int
	UserID   string
	Amount   string
	Time     string
	Location string
	Merchant string
	Category string
	Extras   map[string]string
}

// ValidationError identifies the offending row and field.
type ValidationError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: invalid %s %q: %v", e.Row, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// MalformedTimeError is returned for a time of day that does not parse to an hour in [0,23].
type MalformedTimeError struct {
	Value  string
	Reason string
}

func (e *MalformedTimeError) Error() string {
	return fmt.Sprintf("malformed time %q: %s", e.Value, e.Reason)
}

// Amounts are bounded before any arithmetic; decimal rescaling is
// proportional to the exponent.
const (
	MaxAmountScale  = 8
	MaxAmountDigits = 40
	maxAmountText   = 64
)

// MaxAmount is the largest accepted transaction amount.
var MaxAmount = decimal.New(1, 15)

var (
	errRequired    = errors.New("value is required")
	errNegative    = errors.New("amount must not be negative")
	errNotNumber   = errors.New("not a number")
	errTooPrecise  = fmt.Errorf("more than %d decimal places", MaxAmountScale)
	errOutOfBounds = fmt.Errorf("outside the accepted range [0, %s]", MaxAmount.String())
)

func Normalize(rec Record) (model.Transaction, error) {
	user := strings.TrimSpace(rec.UserID)
	if user == "" {
		return model.Transaction{}, &ValidationError{Row: rec.Row, Field: FieldUserID, Value: rec.UserID, Err: errRequired}
	}
	amount, err := ParseAmount(rec.Amount)
	if err != nil {
		return model.Transaction{}, &ValidationError{Row: rec.Row, Field: FieldAmount, Value: rec.Amount, Err: err}
	}
	tod := strings.TrimSpace(rec.Time)
	if _, err := ParseHour(tod); err != nil {
		return model.Transaction{}, &ValidationError{Row: rec.Row, Field: FieldTime, Value: rec.Time, Err: err}
	}
	location := strings.TrimSpace(rec.Location)
	if location == "" {
		return model.Transaction{}, &ValidationError{Row: rec.Row, Field: FieldLocation, Value: rec.Location, Err: errRequired}
	}
	merchant := strings.TrimSpace(rec.Merchant)
	if merchant == "" {
		return model.Transaction{}, &ValidationError{Row: rec.Row, Field: FieldMerchant, Value: rec.Merchant, Err: errRequired}
	}
	category := strings.TrimSpace(rec.Category)
	if category == "" {
		return model.Transaction{}, &ValidationError{Row: rec.Row, Field: FieldCategory, Value: rec.Category, Err: errRequired}
	}
	return model.Transaction{
		Row:      rec.Row,
		UserID:   user,
		Amount:   amount,
		Time:     tod,
		Location: location,
		Merchant: merchant,
		Category: category,
	}, nil
}

// Validate checks a transaction that was built without going through Normalize.
func Validate(tx model.Transaction) error {
	if strings.TrimSpace(tx.UserID) == "" {
		return &ValidationError{Row: tx.Row, Field: FieldUserID, Value: tx.UserID, Err: errRequired}
	}
	if err := CheckAmount(tx.Amount); err != nil {
		return &ValidationError{Row: tx.Row, Field: FieldAmount, Value: amountText(tx.Amount), Err: err}
	}
	if _, err := ParseHour(tx.Time); err != nil {
		return &ValidationError{Row: tx.Row, Field: FieldTime, Value: tx.Time, Err: err}
	}
	if strings.TrimSpace(tx.Location) == "" {
		return &ValidationError{Row: tx.Row, Field: FieldLocation, Value: tx.Location, Err: errRequired}
	}
	if strings.TrimSpace(tx.Merchant) == "" {
		return &ValidationError{Row: tx.Row, Field: FieldMerchant, Value: tx.Merchant, Err: errRequired}
	}
	if strings.TrimSpace(tx.Category) == "" {
		return &ValidationError{Row: tx.Row, Field: FieldCategory, Value: tx.Category, Err: errRequired}
	}
	return nil
}

func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errRequired
	}
	if len(s) > maxAmountText {
		return decimal.Zero, errOutOfBounds
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errNotNumber
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmount rejects negative amounts and amounts outside
// [0, MaxAmount] or with more than MaxAmountScale decimal places.
// Only the exponent and digit count are inspected before comparing.
func CheckAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return errNegative
	}
	exp := d.Exponent()
	if exp < -MaxAmountScale-MaxAmountDigits || exp > MaxAmountDigits || d.NumDigits() > MaxAmountDigits {
		return errOutOfBounds
	}
	if exp < -MaxAmountScale && !d.Equal(d.Truncate(MaxAmountScale)) {
		return errTooPrecise
	}
	if d.GreaterThan(MaxAmount) {
		return errOutOfBounds
	}
	return nil
}

// amountText formats an amount for error messages without expanding a huge exponent.
func amountText(d decimal.Decimal) string {
	if exp := d.Exponent(); exp > MaxAmountDigits || exp < -MaxAmountScale-MaxAmountDigits {
		return d.Coefficient().String() + "e" + strconv.Itoa(int(exp))
	}
	return d.String()
}

// ParseHour accepts "H:MM", "HH:MM" and "HH:MM:SS" and returns the hour.
func ParseHour(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, &MalformedTimeError{Value: s, Reason: "expected HH:MM"}
	}
	if len(parts[0]) < 1 || len(parts[0]) > 2 {
		return 0, &MalformedTimeError{Value: s, Reason: "hour must have one or two digits"}
	}
	hour, ok := digits(parts[0])
	if !ok || hour > 23 {
		return 0, &MalformedTimeError{Value: s, Reason: "hour must be within [0,23]"}
	}
	for _, p := range parts[1:] {
		if len(p) != 2 {
			return 0, &MalformedTimeError{Value: s, Reason: "minutes and seconds must have two digits"}
		}
		v, ok := digits(p)
		if !ok || v > 59 {
			return 0, &MalformedTimeError{Value: s, Reason: "minutes and seconds must be within [0,59]"}
		}
	}
	return hour, nil
}

func digits(s string) (int, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
