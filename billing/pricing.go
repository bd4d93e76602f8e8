package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TEMPORAL RENTAL PRICING - (vehicle type, days) -> price
// =============================================================================

// DivisorPoint says that a rental of Days days is priced at
// monthly * Days / Divisor. Short rentals use a smaller divisor, so a day
// costs more than 1/30 of the monthly price.
type DivisorPoint struct {
	Days    int
	Divisor decimal.Decimal
}

// Rate is the tariff of one vehicle type.
type Rate struct {
	Monthly  decimal.Decimal
	Divisors []DivisorPoint
}

// PriceTable is the full tariff, one rate per vehicle type.
type PriceTable struct {
	Currency string
	Rates    map[VehicleType]Rate
}

// DefaultDivisors is the standard divisor progression.
func DefaultDivisors() []DivisorPoint {
	return []DivisorPoint{
		{Days: 1, Divisor: decimal.NewFromInt(20)},
		{Days: 7, Divisor: decimal.NewFromInt(24)},
		{Days: 15, Divisor: decimal.NewFromInt(27)},
		{Days: 30, Divisor: decimal.NewFromInt(30)},
	}
}

// Validate checks that breakpoints are strictly increasing and divisors positive.
func (r Rate) Validate() error {
	if r.Monthly.IsNegative() {
		return &ConfigurationError{Field: "monthly", Reason: "must not be negative"}
	}
	if len(r.Divisors) == 0 {
		return &ConfigurationError{Field: "divisors", Reason: "must not be empty"}
	}
	for i, p := range r.Divisors {
		if p.Days <= 0 {
			return &ConfigurationError{Field: "divisors.days", Reason: "must be >= 1"}
		}
		if !p.Divisor.IsPositive() {
			return &ConfigurationError{Field: "divisors.divisor", Reason: "must be positive"}
		}
		if i > 0 && p.Days <= r.Divisors[i-1].Days {
			return &ConfigurationError{Field: "divisors.days", Reason: "must be strictly increasing"}
		}
	}
	return nil
}

// Divisor interpolates linearly between breakpoints, clamping at both ends.
func (r Rate) Divisor(days int) decimal.Decimal {
	points := r.Divisors
	if days <= points[0].Days {
		return points[0].Divisor
	}
	last := points[len(points)-1]
	if days >= last.Days {
		return last.Divisor
	}

	i := sort.Search(len(points), func(i int) bool { return points[i].Days >= days })
	hi, lo := points[i], points[i-1]
	if hi.Days == days {
		return hi.Divisor
	}
	span := decimal.NewFromInt(int64(hi.Days - lo.Days))
	offset := decimal.NewFromInt(int64(days - lo.Days))
	return lo.Divisor.Add(hi.Divisor.Sub(lo.Divisor).Mul(offset).Div(span))
}

// Price returns the rounded price of a rental of days days.
func (r Rate) Price(days int) decimal.Decimal {
	return r.Monthly.Mul(decimal.NewFromInt(int64(days))).Div(r.Divisor(days)).Round(0)
}

func (t PriceTable) Validate() error {
	if len(t.Rates) == 0 {
		return &ConfigurationError{Field: "rates", Reason: "must not be empty"}
	}
	for vt, rate := range t.Rates {
		if !vt.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownVehicleType, vt)
		}
		if err := rate.Validate(); err != nil {
			return fmt.Errorf("rate %s: %w", vt, err)
		}
	}
	return nil
}

// Price quotes a temporal rental.
func (t PriceTable) Price(vehicle VehicleType, days int) (decimal.Decimal, error) {
	if days <= 0 {
		return decimal.Zero, &ConfigurationError{Field: "days", Reason: fmt.Sprintf("must be >= 1, got %d", days)}
	}
	rate, ok := t.Rates[vehicle]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownVehicleType, vehicle)
	}
	if err := rate.Validate(); err != nil {
		return decimal.Zero, err
	}
	return rate.Price(days), nil
}

// Monthly returns the monthly price of a vehicle type.
func (t PriceTable) Monthly(vehicle VehicleType) (decimal.Decimal, bool) {
	rate, ok := t.Rates[vehicle]
	return rate.Monthly, ok
}
