package factory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/billing"
)

func TestParsePriceTable_DefaultsDivisors(t *testing.T) {
	// GIVEN: A tariff with numeric and string amounts, one custom progression
	jsonStr := `{
		"rates": {
			"car": {"monthly": 25000},
			"motorcycle": {"monthly": "15000", "divisors": [{"days": 1, "divisor": 25}, {"days": 30, "divisor": 30}]}
		}
	}`

	// WHEN: Parsing
	table, err := ParsePriceTable(jsonStr)

	// THEN: Currency and car divisors are defaulted
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, table.Currency)
	assert.Len(t, table.Rates[billing.VehicleCar].Divisors, 4)
	assert.Len(t, table.Rates[billing.VehicleMotorcycle].Divisors, 2)

	price, err := table.Price(billing.VehicleMotorcycle, 1)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(600)), "got %s", price)
}

func TestParsePriceTable_Errors(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr error
	}{
		{"invalid json", `{"rates":`, billing.ErrInvalidConfiguration},
		{"no rates", `{"currency":"COP"}`, billing.ErrInvalidConfiguration},
		{"unknown vehicle", `{"rates":{"boat":{"monthly":1}}}`, billing.ErrUnknownVehicleType},
		{"negative monthly", `{"rates":{"car":{"monthly":-5}}}`, billing.ErrInvalidConfiguration},
		{"unordered divisors", `{"rates":{"car":{"monthly":1,"divisors":[{"days":7,"divisor":24},{"days":1,"divisor":20}]}}}`, billing.ErrInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePriceTable(tt.json)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDefaultPriceTableJSON_Parses(t *testing.T) {
	table, err := ParsePriceTable(DefaultPriceTableJSON())

	require.NoError(t, err)
	for _, vt := range billing.VehicleTypes {
		_, ok := table.Monthly(vt)
		assert.True(t, ok, "no rate for %s", vt)
	}

	monthly, ok := table.Monthly(billing.VehicleTruck)
	require.True(t, ok)
	assert.True(t, monthly.Equal(decimal.NewFromInt(35000)))
}
