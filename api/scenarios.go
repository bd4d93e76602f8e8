/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with clients and
	payments illustrating each delinquency state. Dates are laid out
	relative to the handler's clock, so a freshly loaded scenario always
	shows the state it is named after.

AVAILABLE SCENARIOS:

	al-dia:         Every due period paid
	por-vencer:     First period 3 days past due
	vencido:        First period 10 days past due
	moroso:         First period 20 days past due
	critico:        Three unpaid periods, 70 days past the oldest
	adelanto:       Paid in advance through the next two months
	gracia:         Old debt, recent payment inside the grace window
	pendiente:      Payment registered but not yet confirmed
	sin-matricula:  No enrollment date, state unknown
	portafolio:     All of the above

HOW SCENARIOS WORK:
 1. Create client "demo-<scenario>" with a car at the tariff price
 2. Register the scenario's payments
 3. Confirm the ones an admin would already have reviewed

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "moroso"}

NOTE:

	Scenarios never delete data. Loading the same scenario twice is a
	409 conflict.

SEE ALSO:
  - handlers.go: Client and payment handlers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/billing"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{ID: "al-dia", Name: "Al día", Description: "Every due period paid on time", State: string(billing.StateCurrent)},
	{ID: "por-vencer", Name: "Por vencer", Description: "First period 3 days past due", State: string(billing.StateUpcoming)},
	{ID: "vencido", Name: "Vencido", Description: "First period 10 days past due", State: string(billing.StateOverdue)},
	{ID: "moroso", Name: "Moroso", Description: "First period 20 days past due", State: string(billing.StateDelinquent)},
	{ID: "critico", Name: "Crítico", Description: "Three unpaid periods, 70 days past the oldest", State: string(billing.StateCritical)},
	{ID: "adelanto", Name: "Adelanto", Description: "Paid in advance through the next two months", State: string(billing.StateCurrent)},
	{ID: "gracia", Name: "Gracia", Description: "Old debt, but paid within the grace window", State: string(billing.StateCurrent)},
	{ID: "pendiente", Name: "Pago pendiente", Description: "Payment awaiting admin confirmation", State: string(billing.StateOverdue)},
	{ID: "sin-matricula", Name: "Sin matrícula", Description: "No enrollment date", State: string(billing.StateUnknown)},
	{ID: "portafolio", Name: "Portafolio", Description: "Every scenario at once"},
}

// demoPayment is a payment placed relative to today.
type demoPayment struct {
	daysAgo   int
	confirmed bool
}

type demoClient struct {
	enrolledDaysAgo int
	noEnrollment    bool
	paidThroughIn   int // days from today, 0 for none
	payments        []demoPayment
}

var demoClients = map[string]demoClient{
	"al-dia": {
		enrolledDaysAgo: 75,
		payments:        []demoPayment{{daysAgo: 74, confirmed: true}, {daysAgo: 44, confirmed: true}},
	},
	"por-vencer": {enrolledDaysAgo: 33},
	"vencido":    {enrolledDaysAgo: 40},
	"moroso":     {enrolledDaysAgo: 50},
	"critico":    {enrolledDaysAgo: 100},
	"adelanto":   {enrolledDaysAgo: 100, paidThroughIn: 60},
	"gracia": {
		enrolledDaysAgo: 62,
		payments:        []demoPayment{{daysAgo: 3, confirmed: true}},
	},
	"pendiente": {
		enrolledDaysAgo: 40,
		payments:        []demoPayment{{daysAgo: 35, confirmed: false}},
	},
	"sin-matricula": {noEnrollment: true},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var ids []string
	switch {
	case req.ScenarioID == "portafolio":
		for _, s := range scenarios {
			if _, ok := demoClients[s.ID]; ok {
				ids = append(ids, s.ID)
			}
		}
	default:
		if _, ok := demoClients[req.ScenarioID]; !ok {
			writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
			return
		}
		ids = []string{req.ScenarioID}
	}

	today := billing.Day(h.Clock.Now())
	loaded := make([]ClientDTO, 0, len(ids))
	for _, id := range ids {
		c, err := h.loadDemoClient(r.Context(), id, demoClients[id], today)
		if err != nil {
			writeDomainError(w, "Failed to load scenario", err)
			return
		}
		loaded = append(loaded, toClientDTO(*c))
	}

	h.log.Info("scenario loaded",
		zap.String("scenario_id", req.ScenarioID),
		zap.Int("clients", len(loaded)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"clients":  loaded,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadDemoClient(ctx context.Context, scenario string, d demoClient, today time.Time) (*billing.Client, error) {
	monthly, ok := h.priceTable().Monthly(billing.VehicleCar)
	if !ok {
		monthly = decimal.NewFromInt(25000)
	}

	c := billing.Client{
		ID:              billing.ClientID("demo-" + scenario),
		Name:            "Demo " + scenario,
		Email:           "demo-" + scenario + "@parking.local",
		Plate:           "DEMO-" + strings.ToUpper(scenario[:3]),
		VehicleType:     billing.VehicleCar,
		CycleLengthDays: h.defaultCycleDays,
		MonthlyPrice:    monthly,
		Active:          true,
	}
	if !d.noEnrollment {
		enrollment := billing.AddDays(today, -d.enrolledDaysAgo)
		c.EnrollmentDate = &enrollment
	}
	if d.paidThroughIn > 0 {
		paidThrough := billing.AddDays(today, d.paidThroughIn)
		c.AdvancePaidThrough = &paidThrough
	}

	if err := h.Store.SaveClient(ctx, c); err != nil {
		return nil, fmt.Errorf("client %s: %w", c.ID, err)
	}

	for i, dp := range d.payments {
		p := billing.Payment{
			ID:           billing.PaymentID(fmt.Sprintf("%s-p%d", c.ID, i+1)),
			ClientID:     c.ID,
			Amount:       monthly,
			Timestamp:    billing.AddDays(today, -dp.daysAgo).Add(10 * time.Hour),
			RegisteredBy: "demo",
		}
		if err := h.Store.RegisterPayment(ctx, p); err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		if dp.confirmed {
			if _, err := h.Store.ConfirmPayment(ctx, p.ID, "demo", h.Clock.Now()); err != nil {
				return nil, fmt.Errorf("confirm %s: %w", p.ID, err)
			}
		}
	}

	return h.Store.GetClient(ctx, c.ID)
}
