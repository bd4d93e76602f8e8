/*
handlers.go - HTTP API handlers for the parking billing service

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the billing package.

ENDPOINTS:
  Clients:
    GET    /api/clients                    List clients (?active=true)
    POST   /api/clients                    Create client
    GET    /api/clients/{id}               Get client
    PUT    /api/clients/{id}               Update billing fields / price
    DELETE /api/clients/{id}               Deactivate client

  Morosidad:
    GET    /api/clients/{id}/periods       Periods with paid/unpaid status
    GET    /api/clients/{id}/morosidad     Delinquency evaluation
    GET    /api/morosidad                  Portfolio report (?state=)

  Payments:
    GET    /api/clients/{id}/payments      Payment history
    POST   /api/clients/{id}/payments      Register payment (pending)
    POST   /api/payments/{id}/confirm      Admin confirm
    POST   /api/payments/{id}/reject       Admin reject

  Prices & capacity:
    GET    /api/prices                     Tariff
    PUT    /api/prices                     Replace tariff
    GET    /api/prices/quote               Temporal rental quote
    GET    /api/capacity                   Occupancy per vehicle type

  Admin:
    POST   /api/admin/sweep                Run the delinquency sweep now
    GET    /api/scenarios                  Demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

EVALUATION DATE:
  Every evaluation endpoint accepts ?as_of=YYYY-MM-DD. Without it the
  handler's clock decides; the billing package never reads the wall clock.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid configuration
  - 404: Client or payment not found
  - 409: Conflict (already reviewed, enrollment locked, duplicates)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - sweep.go: Delinquency sweep
  - scenarios.go: Demo data
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/billing"
	"github.com/warp/parking-engine/clock"
	"github.com/warp/parking-engine/factory"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options configures a Handler.
type Options struct {
	Rules            billing.Rules
	Capacity         billing.Capacity
	DefaultCycleDays int
	Notifier         billing.Notifier
	Clock            clock.Clock
	Logger           *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      billing.Store
	Classifier *billing.Classifier
	Sweep      *DelinquencySweep
	Clock      clock.Clock
	Capacity   billing.Capacity

	defaultCycleDays int
	log              *zap.Logger

	// Cached tariff, reloaded on PUT /api/prices
	mu     sync.RWMutex
	prices billing.PriceTable
}

// NewHandler creates a new handler with the given store.
func NewHandler(store billing.Store, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.DefaultCycleDays <= 0 {
		opts.DefaultCycleDays = billing.DefaultCycleLengthDays
	}

	classifier := billing.NewClassifier(opts.Rules, opts.Logger.Named("classifier"))
	h := &Handler{
		Store:            store,
		Classifier:       classifier,
		Clock:            opts.Clock,
		Capacity:         opts.Capacity,
		defaultCycleDays: opts.DefaultCycleDays,
		log:              opts.Logger,
		prices:           factory.DefaultPriceTable(),
	}
	if opts.Notifier != nil {
		h.Sweep = NewDelinquencySweep(store, classifier, opts.Notifier, opts.Clock, opts.Logger.Named("sweep"))
	}
	return h
}

// LoadPrices loads the tariff from the store into cache. A fresh store is
// seeded with the default tariff.
func (h *Handler) LoadPrices(ctx context.Context) error {
	raw, err := h.Store.GetPriceConfig(ctx)
	if err != nil {
		return err
	}
	if raw == "" {
		return h.Store.SavePriceConfig(ctx, factory.DefaultPriceTableJSON())
	}

	table, err := factory.ParsePriceTable(raw)
	if err != nil {
		return fmt.Errorf("stored price table: %w", err)
	}
	h.setPrices(table)
	return nil
}

func (h *Handler) priceTable() billing.PriceTable {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.prices
}

func (h *Handler) setPrices(t billing.PriceTable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prices = t
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients, or only active ones with ?active=true.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	clients, err := h.Store.ListClients(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient creates a new client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	c := billing.Client{
		ID:              billing.ClientID(req.ID),
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Plate:           strings.ToUpper(req.Plate),
		VehicleType:     billing.VehicleType(req.VehicleType),
		CycleLengthDays: h.defaultCycleDays,
		Active:          true,
	}
	if c.ID == "" {
		c.ID = billing.ClientID(uuid.NewString())
	}
	if c.VehicleType == "" {
		c.VehicleType = billing.VehicleCar
	}
	if req.CycleLengthDays != nil {
		if *req.CycleLengthDays < 1 {
			writeError(w, http.StatusBadRequest, "Invalid cycle_length_days", errCycleLength(*req.CycleLengthDays))
			return
		}
		c.CycleLengthDays = *req.CycleLengthDays
	}

	var err error
	if c.EnrollmentDate, err = parseOptionalDate(req.EnrollmentDate, "enrollment_date"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid enrollment_date", err)
		return
	}
	if c.AdvancePaidThrough, err = parseOptionalDate(req.AdvancePaidThrough, "advance_paid_through"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid advance_paid_through", err)
		return
	}

	if req.MonthlyPrice != nil {
		c.MonthlyPrice = *req.MonthlyPrice
	} else if monthly, ok := h.priceTable().Monthly(c.VehicleType); ok {
		c.MonthlyPrice = monthly
	}

	if err := h.Store.SaveClient(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to create client", err)
		return
	}

	created, err := h.Store.GetClient(r.Context(), c.ID)
	if err != nil {
		writeDomainError(w, "Failed to load client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*created))
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetClient(r.Context(), clientIDParam(r))
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// UpdateClient applies the fields present in the body.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var req UpdateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, err := h.Store.GetClient(r.Context(), clientIDParam(r))
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Email != nil {
		c.Email = *req.Email
	}
	if req.Phone != nil {
		c.Phone = *req.Phone
	}
	if req.Plate != nil {
		c.Plate = strings.ToUpper(*req.Plate)
	}
	if req.VehicleType != nil {
		c.VehicleType = billing.VehicleType(*req.VehicleType)
	}
	if req.CycleLengthDays != nil {
		if *req.CycleLengthDays < 1 {
			writeError(w, http.StatusBadRequest, "Invalid cycle_length_days", errCycleLength(*req.CycleLengthDays))
			return
		}
		c.CycleLengthDays = *req.CycleLengthDays
	}
	if req.MonthlyPrice != nil {
		c.MonthlyPrice = *req.MonthlyPrice
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if req.EnrollmentDate != nil {
		if c.EnrollmentDate, err = parseOptionalDate(*req.EnrollmentDate, "enrollment_date"); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid enrollment_date", err)
			return
		}
	}
	if req.AdvancePaidThrough != nil {
		if c.AdvancePaidThrough, err = parseOptionalDate(*req.AdvancePaidThrough, "advance_paid_through"); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid advance_paid_through", err)
			return
		}
	}

	if err := h.Store.UpdateClient(r.Context(), *c); err != nil {
		writeDomainError(w, "Failed to update client", err)
		return
	}

	updated, err := h.Store.GetClient(r.Context(), c.ID)
	if err != nil {
		writeDomainError(w, "Failed to load client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*updated))
}

// DeactivateClient marks a client inactive. Payment history is kept.
func (h *Handler) DeactivateClient(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeactivateClient(r.Context(), clientIDParam(r)); err != nil {
		writeDomainError(w, "Failed to deactivate client", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// =============================================================================
// MOROSIDAD HANDLERS
// =============================================================================

// evaluate loads a client with its payments and classifies it as of asOf.
func (h *Handler) evaluate(ctx context.Context, id billing.ClientID, asOf time.Time) (*billing.Client, billing.Evaluation, error) {
	c, err := h.Store.GetClient(ctx, id)
	if err != nil {
		return nil, billing.Evaluation{}, err
	}
	payments, err := h.Store.PaymentsByClient(ctx, id)
	if err != nil {
		return nil, billing.Evaluation{}, err
	}
	ev, err := h.Classifier.Evaluate(*c, payments, asOf)
	if err != nil {
		return nil, billing.Evaluation{}, err
	}
	return c, ev, nil
}

// GetPeriods returns the client's billing periods with their status.
func (h *Handler) GetPeriods(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	c, ev, err := h.evaluate(r.Context(), clientIDParam(r), asOf)
	if err != nil {
		writeDomainError(w, "Failed to evaluate client", err)
		return
	}

	writeJSON(w, http.StatusOK, PeriodsResponse{
		ClientID: string(c.ID),
		AsOf:     billing.FormatDate(ev.AsOf),
		Periods:  toPeriodDTOs(ev.Periods),
	})
}

// GetMorosidad returns the delinquency evaluation of one client.
func (h *Handler) GetMorosidad(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	c, ev, err := h.evaluate(r.Context(), clientIDParam(r), asOf)
	if err != nil {
		writeDomainError(w, "Failed to evaluate client", err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationDTO(*c, ev))
}

// GetPortfolio evaluates every active client. ?state= filters the client
// list; totals always cover all clients.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	filter := billing.DelinquencyState(r.URL.Query().Get("state"))

	clients, err := h.Store.ListClients(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	resp := PortfolioResponse{
		AsOf:      billing.FormatDate(asOf),
		Totals:    make(map[string]int, len(billing.States)),
		TotalOwed: decimal.Zero,
		Clients:   []EvaluationDTO{},
	}
	for _, s := range billing.States {
		resp.Totals[string(s)] = 0
	}

	for _, c := range clients {
		payments, err := h.Store.PaymentsByClient(r.Context(), c.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
			return
		}
		ev, err := h.Classifier.Evaluate(c, payments, asOf)
		if err != nil {
			h.log.Warn("skipping client in portfolio", zap.String("client_id", string(c.ID)), zap.Error(err))
			continue
		}

		resp.Totals[string(ev.State)]++
		resp.TotalOwed = resp.TotalOwed.Add(ev.OwedAmount)
		if filter == "" || filter == ev.State {
			resp.Clients = append(resp.Clients, toEvaluationDTO(c, ev))
		}
	}

	// Most overdue first
	sort.SliceStable(resp.Clients, func(i, j int) bool {
		if resp.Clients[i].DaysOverdue != resp.Clients[j].DaysOverdue {
			return resp.Clients[i].DaysOverdue > resp.Clients[j].DaysOverdue
		}
		return resp.Clients[i].ClientID < resp.Clients[j].ClientID
	})

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns a client's payments ordered by timestamp.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := clientIDParam(r)
	if _, err := h.Store.GetClient(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}

	payments, err := h.Store.PaymentsByClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterPayment records a payment in pending state.
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req RegisterPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := billing.Payment{
		ID:           billing.PaymentID(req.ID),
		ClientID:     clientIDParam(r),
		Amount:       req.Amount,
		Timestamp:    h.Clock.Now(),
		RegisteredBy: req.RegisteredBy,
		Note:         req.Note,
	}
	if p.ID == "" {
		p.ID = billing.PaymentID(uuid.NewString())
	}
	if req.Timestamp != nil {
		p.Timestamp = req.Timestamp.UTC()
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	}

	if err := h.Store.RegisterPayment(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to register payment", err)
		return
	}

	stored, err := h.Store.GetPayment(r.Context(), p.ID)
	if err != nil {
		writeDomainError(w, "Failed to load payment", err)
		return
	}
	h.log.Info("payment registered",
		zap.String("payment_id", string(p.ID)),
		zap.String("client_id", string(p.ClientID)),
		zap.String("amount", p.Amount.String()),
	)
	writeJSON(w, http.StatusCreated, toPaymentDTO(*stored))
}

// ConfirmPayment confirms a pending payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.reviewPayment(w, r, true)
}

// RejectPayment rejects a pending payment.
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	h.reviewPayment(w, r, false)
}

func (h *Handler) reviewPayment(w http.ResponseWriter, r *http.Request, confirm bool) {
	var req ReviewPaymentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.Reviewer == "" {
		req.Reviewer = "admin"
	}

	id := billing.PaymentID(chi.URLParam(r, "id"))
	now := h.Clock.Now()

	var (
		p   *billing.Payment
		err error
	)
	if confirm {
		p, err = h.Store.ConfirmPayment(r.Context(), id, req.Reviewer, now)
	} else {
		p, err = h.Store.RejectPayment(r.Context(), id, req.Reviewer, req.Reason, now)
	}
	if err != nil {
		writeDomainError(w, "Failed to review payment", err)
		return
	}

	h.log.Info("payment reviewed",
		zap.String("payment_id", string(p.ID)),
		zap.String("state", string(p.State)),
		zap.String("reviewer", req.Reviewer),
	)
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// PRICE HANDLERS
// =============================================================================

// GetPrices returns the current tariff.
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.ToJSON(h.priceTable()))
}

// UpdatePrices replaces the tariff.
func (h *Handler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var pj factory.PriceTableJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	table, err := factory.FromJSON(pj)
	if err != nil {
		writeDomainError(w, "Invalid price table", err)
		return
	}
	raw, err := factory.Encode(table)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode price table", err)
		return
	}
	if err := h.Store.SavePriceConfig(r.Context(), raw); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save price table", err)
		return
	}
	h.setPrices(table)

	writeJSON(w, http.StatusOK, factory.ToJSON(table))
}

// QuotePrice prices a temporal rental: ?vehicle_type=car&days=10.
func (h *Handler) QuotePrice(w http.ResponseWriter, r *http.Request) {
	vt := billing.VehicleType(r.URL.Query().Get("vehicle_type"))
	if vt == "" {
		vt = billing.VehicleCar
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer", err)
		return
	}

	table := h.priceTable()
	price, err := table.Price(vt, days)
	if err != nil {
		writeDomainError(w, "Failed to quote price", err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteDTO{
		VehicleType: string(vt),
		Days:        days,
		Price:       price,
		Currency:    table.Currency,
	})
}

// =============================================================================
// CAPACITY & ADMIN HANDLERS
// =============================================================================

// GetCapacity reports occupancy of active clients against capacity.
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	lines := billing.Occupancy(h.Capacity, clients)
	dtos := make([]OccupancyDTO, len(lines))
	for i, l := range lines {
		dtos[i] = toOccupancyDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerSweep runs the delinquency sweep synchronously.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweep == nil {
		writeError(w, http.StatusServiceUnavailable, "No notifier configured", nil)
		return
	}
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	report, err := h.Sweep.Run(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the handler is serving and its store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Error("store ping failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.Clock.Now().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func clientIDParam(r *http.Request) billing.ClientID {
	return billing.ClientID(chi.URLParam(r, "id"))
}

// asOf reads ?as_of=YYYY-MM-DD, defaulting to the handler's clock.
func (h *Handler) asOf(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("as_of")
	if s == "" {
		return h.Clock.Now(), nil
	}
	return billing.ParseDate(s)
}

func parseOptionalDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := billing.ParseDate(s)
	if err != nil {
		return nil, &billing.ConfigurationError{Field: field, Reason: "must be YYYY-MM-DD"}
	}
	if y := t.Year(); y < minDateYear || y > maxDateYear {
		return nil, &billing.ConfigurationError{
			Field:  field,
			Reason: fmt.Sprintf("year must be between %d and %d", minDateYear, maxDateYear),
		}
	}
	return &t, nil
}

// Accepted range for client dates.
const (
	minDateYear = 1900
	maxDateYear = 2200
)

func errCycleLength(n int) error {
	return &billing.ConfigurationError{Field: "cycle_length_days", Reason: fmt.Sprintf("must be >= 1, got %d", n)}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps billing errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case billing.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
