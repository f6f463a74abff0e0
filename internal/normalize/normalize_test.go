package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txguard/internal/model"
)

func validRecord() Record {
	return Record{
		Row:      1,
		UserID:   " 101 ",
		Amount:   "3500.50",
		Time:     "14:05",
		Location: " Chennai ",
		Merchant: "Amazon",
		Category: "Shopping",
	}
}

func TestNormalizeValidRecord(t *testing.T) {
	tx, err := Normalize(validRecord())
	require.NoError(t, err)
	assert.Equal(t, "101", tx.UserID)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("3500.5")))
	assert.Equal(t, "14:05", tx.Time)
	assert.Equal(t, "Chennai", tx.Location)
	assert.Equal(t, 1, tx.Row)
}

func TestNormalizeRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		field  string
	}{
		{"missing user", func(r *Record) { r.UserID = "  " }, FieldUserID},
		{"non numeric amount", func(r *Record) { r.Amount = "12abc" }, FieldAmount},
		{"negative amount", func(r *Record) { r.Amount = "-1" }, FieldAmount},
		{"empty amount", func(r *Record) { r.Amount = "" }, FieldAmount},
		{"bad time", func(r *Record) { r.Time = "noon" }, FieldTime},
		{"hour out of range", func(r *Record) { r.Time = "24:00" }, FieldTime},
		{"missing location", func(r *Record) { r.Location = "" }, FieldLocation},
		{"missing merchant", func(r *Record) { r.Merchant = " " }, FieldMerchant},
		{"missing category", func(r *Record) { r.Category = "" }, FieldCategory},
		{"huge exponent", func(r *Record) { r.Amount = "1e500000000" }, FieldAmount},
		{"tiny exponent", func(r *Record) { r.Amount = "1e-500000000" }, FieldAmount},
		{"above ceiling", func(r *Record) { r.Amount = "1000000000000000.01" }, FieldAmount},
		{"too many decimals", func(r *Record) { r.Amount = "0.000000001" }, FieldAmount},
		{"overlong", func(r *Record) { r.Amount = "1" + strings.Repeat("0", 80) }, FieldAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			rec.Row = 7
			tt.mutate(&rec)
			_, err := Normalize(rec)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, 7, verr.Row)
			assert.Contains(t, err.Error(), "row 7")
		})
	}
}

func TestNormalizeTimeErrorIsMalformedTime(t *testing.T) {
	rec := validRecord()
	rec.Time = "25:00"
	_, err := Normalize(rec)
	var terr *MalformedTimeError
	assert.True(t, errors.As(err, &terr))
}

func TestParseHour(t *testing.T) {
	ok := map[string]int{
		"00:00":    0,
		"9:30":     9,
		"09:30":    9,
		"23:59":    23,
		"12:00:00": 12,
		" 22:10 ":  22,
	}
	for in, want := range ok {
		got, err := ParseHour(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "12", "123:00", "24:00", "-1:00", "12:5", "12:60", "ab:cd", "1:00:00:00", "12:00:61"} {
		_, err := ParseHour(in)
		var terr *MalformedTimeError
		assert.True(t, errors.As(err, &terr), in)
	}
}

func TestParseAmountZeroIsValid(t *testing.T) {
	d, err := ParseAmount("0")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}

func TestValidate(t *testing.T) {
	tx := model.Transaction{UserID: "u1", Amount: decimal.NewFromInt(10), Time: "10:00", Location: "chennai", Merchant: "Amazon", Category: "Shopping"}
	assert.NoError(t, Validate(tx))

	bad := tx
	bad.Amount = decimal.NewFromInt(-5)
	var verr *ValidationError
	require.True(t, errors.As(Validate(bad), &verr))
	assert.Equal(t, FieldAmount, verr.Field)

	bad = tx
	bad.Time = "7"
	require.True(t, errors.As(Validate(bad), &verr))
	assert.Equal(t, FieldTime, verr.Field)

	bad = tx
	bad.Amount = decimal.New(1, 500000000)
	require.True(t, errors.As(Validate(bad), &verr))
	assert.Equal(t, FieldAmount, verr.Field)
	assert.Equal(t, "1e500000000", verr.Value)

	bad = tx
	bad.Merchant = ""
	require.True(t, errors.As(Validate(bad), &verr))
	assert.Equal(t, FieldMerchant, verr.Field)

	bad = tx
	bad.Category = ""
	require.True(t, errors.As(Validate(bad), &verr))
	assert.Equal(t, FieldCategory, verr.Field)
}

func TestParseAmountBounds(t *testing.T) {
	for _, in := range []string{"1000000000000000", "0.00000001", "1.000000000000", "1e3", "12345.6789"} {
		_, err := ParseAmount(in)
		assert.NoError(t, err, in)
	}
	for _, in := range []string{"1e16", "1000000000000000.5", "0.000000015", "5e-500000000"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}
