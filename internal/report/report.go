// Package report renders decisions with a fixed column layout. Column names
// and order never change between calls so exported files stay comparable.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"txguard/internal/model"
)

const ReasonSeparator = ", "

var Columns = []string{
	"User ID",
	"Amount",
	"Time",
	"Location",
	"Merchant",
	"Category",
	"Status",
	"Risk Score",
	"Reasons",
}

func Row(d model.Decision) []string {
	return []string{
		d.UserID,
		d.Amount.String(),
		d.Time,
		d.Location,
		d.Merchant,
		d.Category,
		string(d.Status),
		strconv.Itoa(d.RiskScore),
		JoinReasons(d.Reasons),
	}
}

func JoinReasons(reasons []string) string {
	return strings.Join(reasons, ReasonSeparator)
}

func WriteCSV(w io.Writer, decisions []model.Decision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, d := range decisions {
		if err := cw.Write(Row(d)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type Summary struct {
	Total      int `json:"total"`
	Normal     int `json:"normal"`
	Suspicious int `json:"suspicious"`
	Fraud      int `json:"fraud"`
}

func Summarize(decisions []model.Decision) Summary {
	s := Summary{Total: len(decisions)}
	for _, d := range decisions {
		switch d.Status {
		case model.StatusFraud:
			s.Fraud++
		case model.StatusSuspicious:
			s.Suspicious++
		default:
			s.Normal++
		}
	}
	return s
}

func (s Summary) Count(status model.Status) int {
	switch status {
	case model.StatusFraud:
		return s.Fraud
	case model.StatusSuspicious:
		return s.Suspicious
	case model.StatusNormal:
		return s.Normal
	}
	return 0
}
