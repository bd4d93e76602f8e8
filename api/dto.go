/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Clients:    ClientDTO, CreateClientRequest, UpdateClientRequest
  Payments:   PaymentDTO, RegisterPaymentRequest, ReviewPaymentRequest
  Morosidad:  EvaluationDTO, PeriodDTO, PeriodsResponse, PortfolioResponse
  Prices:     QuoteDTO (tariff documents use factory.PriceTableJSON)
  Capacity:   OccupancyDTO
  Sweep:      SweepReportDTO
  Demo:       ScenarioDTO

FORMATS:
  Calendar dates are "YYYY-MM-DD". Amounts are decimal strings.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/billing"
)

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Email              string          `json:"email,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	Plate              string          `json:"plate,omitempty"`
	VehicleType        string          `json:"vehicle_type,omitempty"`
	EnrollmentDate     string          `json:"enrollment_date,omitempty"`
	CycleLengthDays    int             `json:"cycle_length_days"`
	MonthlyPrice       decimal.Decimal `json:"monthly_price"`
	AdvancePaidThrough string          `json:"advance_paid_through,omitempty"`
	Active             bool            `json:"active"`
	CreatedAt          string          `json:"created_at,omitempty"`
}

// CreateClientRequest creates a client. ID is generated when empty; the
// monthly price defaults to the tariff of the vehicle type.
type CreateClientRequest struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Email              string           `json:"email"`
	Phone              string           `json:"phone"`
	Plate              string           `json:"plate"`
	VehicleType        string           `json:"vehicle_type"`
	EnrollmentDate     string           `json:"enrollment_date"`
	CycleLengthDays    *int             `json:"cycle_length_days"`
	MonthlyPrice       *decimal.Decimal `json:"monthly_price"`
	AdvancePaidThrough string           `json:"advance_paid_through"`
}

// UpdateClientRequest changes only the fields that are present.
// An empty advance_paid_through string clears the advance.
type UpdateClientRequest struct {
	Name               *string          `json:"name"`
	Email              *string          `json:"email"`
	Phone              *string          `json:"phone"`
	Plate              *string          `json:"plate"`
	VehicleType        *string          `json:"vehicle_type"`
	EnrollmentDate     *string          `json:"enrollment_date"`
	CycleLengthDays    *int             `json:"cycle_length_days"`
	MonthlyPrice       *decimal.Decimal `json:"monthly_price"`
	AdvancePaidThrough *string          `json:"advance_paid_through"`
	Active             *bool            `json:"active"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    time.Time       `json:"timestamp"`
	State        string          `json:"state"`
	RegisteredBy string          `json:"registered_by,omitempty"`
	ReviewedBy   string          `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	Note         string          `json:"note,omitempty"`
}

// RegisterPaymentRequest records a payment awaiting review. Timestamp
// defaults to now.
type RegisterPaymentRequest struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    *time.Time      `json:"timestamp"`
	RegisteredBy string          `json:"registered_by"`
	Note         string          `json:"note"`
}

type ReviewPaymentRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

// =============================================================================
// MOROSIDAD
// =============================================================================

type PeriodDTO struct {
	Index     int    `json:"index"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Due       string `json:"due"`
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Overdue   bool   `json:"overdue"`
}

type PeriodsResponse struct {
	ClientID string      `json:"client_id"`
	AsOf     string      `json:"as_of"`
	Periods  []PeriodDTO `json:"periods"`
}

type SkippedPaymentDTO struct {
	PaymentID string `json:"payment_id"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

type EvaluationDTO struct {
	ClientID       string              `json:"client_id"`
	ClientName     string              `json:"client_name,omitempty"`
	AsOf           string              `json:"as_of"`
	State          string              `json:"state"`
	DaysOverdue    int                 `json:"days_overdue"`
	OwedAmount     decimal.Decimal     `json:"owed_amount"`
	OverduePeriods int                 `json:"overdue_periods"`
	OldestDue      string              `json:"oldest_due,omitempty"`
	NextDue        string              `json:"next_due,omitempty"`
	DaysUntilDue   int                 `json:"days_until_due"`
	GraceApplied   bool                `json:"grace_applied"`
	Skipped        []SkippedPaymentDTO `json:"skipped_payments,omitempty"`
}

type PortfolioResponse struct {
	AsOf      string          `json:"as_of"`
	Totals    map[string]int  `json:"totals"`
	TotalOwed decimal.Decimal `json:"total_owed"`
	Clients   []EvaluationDTO `json:"clients"`
}

// =============================================================================
// PRICES, CAPACITY, SWEEP
// =============================================================================

type QuoteDTO struct {
	VehicleType string          `json:"vehicle_type"`
	Days        int             `json:"days"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
}

type OccupancyDTO struct {
	VehicleType string `json:"vehicle_type"`
	Capacity    int    `json:"capacity"`
	Occupied    int    `json:"occupied"`
	Available   int    `json:"available"`
	Overbooked  bool   `json:"overbooked"`
}

type SweepReportDTO struct {
	AsOf            string         `json:"as_of"`
	Evaluated       int            `json:"evaluated"`
	Notified        int            `json:"notified"`
	AlreadyNotified int            `json:"already_notified"`
	Failed          int            `json:"failed"`
	ByState         map[string]int `json:"by_state"`
	DurationMs      int64          `json:"duration_ms"`
}

// ScenarioDTO describes a demo scenario. State is the delinquency state
// its client shows right after loading.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return billing.FormatDate(*t)
}

func toClientDTO(c billing.Client) ClientDTO {
	dto := ClientDTO{
		ID:                 string(c.ID),
		Name:               c.Name,
		Email:              c.Email,
		Phone:              c.Phone,
		Plate:              c.Plate,
		VehicleType:        string(c.VehicleType),
		EnrollmentDate:     formatOptionalDate(c.EnrollmentDate),
		CycleLengthDays:    c.CycleLength(),
		MonthlyPrice:       c.MonthlyPrice,
		AdvancePaidThrough: formatOptionalDate(c.AdvancePaidThrough),
		Active:             c.Active,
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           string(p.ID),
		ClientID:     string(p.ClientID),
		Amount:       p.Amount,
		Timestamp:    p.Timestamp,
		State:        string(p.State),
		RegisteredBy: p.RegisteredBy,
		ReviewedBy:   p.ReviewedBy,
		ReviewedAt:   p.ReviewedAt,
		Note:         p.Note,
	}
}

func toPeriodDTOs(statuses []billing.PeriodStatus) []PeriodDTO {
	return lo.Map(statuses, func(ps billing.PeriodStatus, _ int) PeriodDTO {
		return PeriodDTO{
			Index:     ps.Index,
			Start:     billing.FormatDate(ps.Start),
			End:       billing.FormatDate(ps.End),
			Due:       billing.FormatDate(ps.Due),
			Status:    string(ps.Status),
			Source:    string(ps.Source),
			PaymentID: string(ps.PaymentID),
			Overdue:   ps.Overdue,
		}
	})
}

func toEvaluationDTO(c billing.Client, ev billing.Evaluation) EvaluationDTO {
	return EvaluationDTO{
		ClientID:       string(c.ID),
		ClientName:     c.Name,
		AsOf:           billing.FormatDate(ev.AsOf),
		State:          string(ev.State),
		DaysOverdue:    ev.DaysOverdue,
		OwedAmount:     ev.OwedAmount,
		OverduePeriods: ev.OverduePeriods,
		OldestDue:      formatOptionalDate(ev.OldestDue),
		NextDue:        formatOptionalDate(ev.NextDue),
		DaysUntilDue:   ev.DaysUntilDue,
		GraceApplied:   ev.GraceApplied,
		Skipped: lo.Map(ev.Skipped, func(e billing.MalformedPaymentError, _ int) SkippedPaymentDTO {
			return SkippedPaymentDTO{PaymentID: string(e.PaymentID), Field: e.Field, Reason: e.Reason}
		}),
	}
}

func toOccupancyDTO(l billing.OccupancyLine) OccupancyDTO {
	return OccupancyDTO{
		VehicleType: string(l.VehicleType),
		Capacity:    l.Capacity,
		Occupied:    l.Occupied,
		Available:   l.Available,
		Overbooked:  l.Overbooked,
	}
}

func toSweepReportDTO(r SweepReport) SweepReportDTO {
	byState := make(map[string]int, len(r.ByState))
	for s, n := range r.ByState {
		byState[string(s)] = n
	}
	return SweepReportDTO{
		AsOf:            billing.FormatDate(r.AsOf),
		Evaluated:       r.Evaluated,
		Notified:        r.Notified,
		AlreadyNotified: r.AlreadyNotified,
		Failed:          r.Failed,
		ByState:         byState,
		DurationMs:      r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}
