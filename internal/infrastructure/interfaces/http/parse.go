package http

import (
	"time"

	"github.com/shopspring/decimal"
)

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
