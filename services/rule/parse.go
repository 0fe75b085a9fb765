package rule

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotNumber = errors.New("value is not a number")
	ErrNotDate   = errors.New("value is not a date")
)

// ParseNumber understands plain numbers, currency prefixes and both
// "1.234,56" and "1,234.56" grouping. A lone comma is a decimal separator.
func ParseNumber(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"R$", "US$", "$"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return decimal.Zero, ErrNotNumber
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrNotNumber
	}
	return d, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// excelEpoch is day zero of the 1900 date system as spreadsheets store it.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Serials below minExcelSerial (1954-10-03) are read as plain numbers, not dates.
const (
	minExcelSerial = 20000
	maxExcelSerial = 2958466
)

// ParseDate accepts ISO and day-first layouts plus spreadsheet serial numbers.
// The result is truncated to the calendar day in UTC.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrNotDate
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "eE") {
		if serial >= minExcelSerial && serial < maxExcelSerial {
			days := math.Floor(serial)
			return excelEpoch.AddDate(0, 0, int(days)), nil
		}
	}

	return time.Time{}, ErrNotDate
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
