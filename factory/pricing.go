/*
Package factory provides JSON to Go price table conversion.

PURPOSE:
  Converts the JSON tariff document into a billing.PriceTable. The tariff
  lives in the store as JSON so the administrator can edit prices without a
  deploy; the factory validates it and fills defaults.

JSON SCHEMA:
  {
    "currency": "COP",
    "rates": {
      "car":        {"monthly": "25000"},
      "motorcycle": {"monthly": "15000", "divisors": [{"days": 1, "divisor": "20"}, ...]},
      "truck":      {"monthly": "35000"}
    }
  }

KEY FEATURES:
  - Validates vehicle types and divisor breakpoints
  - Rates without "divisors" get billing.DefaultDivisors()
  - Amounts accept JSON numbers or strings

USAGE:
  table, err := factory.ParsePriceTable(jsonString)
  price, err := table.Price(billing.VehicleCar, 10)
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type PriceTableJSON struct {
	Currency string              `json:"currency"`
	Rates    map[string]RateJSON `json:"rates"`
}

type RateJSON struct {
	Monthly  decimal.Decimal `json:"monthly"`
	Divisors []DivisorJSON   `json:"divisors,omitempty"`
}

type DivisorJSON struct {
	Days    int             `json:"days"`
	Divisor decimal.Decimal `json:"divisor"`
}

// DefaultCurrency is used when the document does not name one.
const DefaultCurrency = "COP"

// DefaultMonthly holds the monthly price of each vehicle type in a fresh install.
var DefaultMonthly = map[billing.VehicleType]int64{
	billing.VehicleCar:        25000,
	billing.VehicleMotorcycle: 15000,
	billing.VehicleTruck:      35000,
}

// =============================================================================
// PARSING
// =============================================================================

// ParsePriceTable parses and validates a JSON tariff.
func ParsePriceTable(jsonStr string) (billing.PriceTable, error) {
	var pj PriceTableJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return billing.PriceTable{}, &billing.ConfigurationError{Field: "prices", Reason: "invalid JSON: " + err.Error()}
	}
	return FromJSON(pj)
}

// FromJSON converts PriceTableJSON to a validated billing.PriceTable.
func FromJSON(pj PriceTableJSON) (billing.PriceTable, error) {
	table := billing.PriceTable{
		Currency: pj.Currency,
		Rates:    make(map[billing.VehicleType]billing.Rate, len(pj.Rates)),
	}
	if table.Currency == "" {
		table.Currency = DefaultCurrency
	}

	for name, rj := range pj.Rates {
		vt := billing.VehicleType(name)
		if !vt.Valid() {
			return billing.PriceTable{}, fmt.Errorf("%w: %s", billing.ErrUnknownVehicleType, name)
		}
		rate := billing.Rate{Monthly: rj.Monthly}
		if len(rj.Divisors) == 0 {
			rate.Divisors = billing.DefaultDivisors()
		} else {
			rate.Divisors = lo.Map(rj.Divisors, func(d DivisorJSON, _ int) billing.DivisorPoint {
				return billing.DivisorPoint{Days: d.Days, Divisor: d.Divisor}
			})
		}
		table.Rates[vt] = rate
	}

	if err := table.Validate(); err != nil {
		return billing.PriceTable{}, err
	}
	return table, nil
}

// ToJSON converts a PriceTable to PriceTableJSON.
func ToJSON(table billing.PriceTable) PriceTableJSON {
	pj := PriceTableJSON{
		Currency: table.Currency,
		Rates:    make(map[string]RateJSON, len(table.Rates)),
	}
	for vt, rate := range table.Rates {
		pj.Rates[string(vt)] = RateJSON{
			Monthly: rate.Monthly,
			Divisors: lo.Map(rate.Divisors, func(d billing.DivisorPoint, _ int) DivisorJSON {
				return DivisorJSON{Days: d.Days, Divisor: d.Divisor}
			}),
		}
	}
	return pj
}

// Encode serializes a table into the stored JSON form.
func Encode(table billing.PriceTable) (string, error) {
	b, err := json.Marshal(ToJSON(table))
	if err != nil {
		return "", fmt.Errorf("encode price table: %w", err)
	}
	return string(b), nil
}

// =============================================================================
// PRESET
// =============================================================================

// DefaultPriceTable is the tariff used until the administrator saves one.
func DefaultPriceTable() billing.PriceTable {
	table := billing.PriceTable{
		Currency: DefaultCurrency,
		Rates:    make(map[billing.VehicleType]billing.Rate, len(DefaultMonthly)),
	}
	for vt, monthly := range DefaultMonthly {
		table.Rates[vt] = billing.Rate{
			Monthly:  decimal.NewFromInt(monthly),
			Divisors: billing.DefaultDivisors(),
		}
	}
	return table
}

// DefaultPriceTableJSON returns DefaultPriceTable in its JSON form.
func DefaultPriceTableJSON() string {
	s, _ := Encode(DefaultPriceTable())
	return s
}
