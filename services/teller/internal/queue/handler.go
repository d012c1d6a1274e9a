package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	MaxBodyBytes = 1 << 20

	// TellerHeader carries the authenticated teller identity, set by the
	// gateway in front of this service.
	TellerHeader = "X-Teller-ID"
)

type Handler struct {
	coordinator *Coordinator
	logger      aqm.Logger
	config      *aqm.Config
	tlm         *telemetry.HTTP
}

func NewHandler(coordinator *Coordinator, config *aqm.Config, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Handler{
		coordinator: coordinator,
		logger:      logger,
		config:      config,
		tlm:         telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/claims", func(r chi.Router) {
		r.Get("/", h.ListClaims)
		r.Post("/", h.ClaimQueueType)
		r.Delete("/me", h.ReleaseQueueType)
		r.Post("/me/heartbeat", h.Heartbeat)
		r.Put("/me/status", h.SetStatus)
	})
	r.Route("/queues", func(r chi.Router) {
		r.Get("/", h.ListQueues)
		r.Get("/{queueType}/depth", h.QueueDepth)
		r.Post("/{queueType}/next", h.NextCustomer)
	})
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", h.ListTickets)
		r.Get("/{id}", h.GetTicket)
		r.Post("/{id}/complete", h.CompleteTransaction)
		r.Post("/{id}/skip", h.SkipCustomer)
		r.Post("/{id}/call", h.CallCustomer)
	})
	r.Post("/undo", h.UndoLast)
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}

type claimRequest struct {
	QueueType string `json:"queue_type"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ClaimQueueType(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ClaimQueueType")
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.coordinator.ClaimQueueType(r.Context(), req.QueueType, tellerID)
	if err != nil {
		h.respondErr(w, log, "cannot claim queue type", err)
		return
	}

	aqm.Respond(w, http.StatusOK, session, nil)
}

func (h *Handler) ReleaseQueueType(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ReleaseQueueType")
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}

	if err := h.coordinator.ReleaseQueueType(r.Context(), tellerID); err != nil {
		h.respondErr(w, log, "cannot release queue type", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Heartbeat")
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}

	if err := h.coordinator.Heartbeat(r.Context(), tellerID); err != nil {
		h.respondErr(w, log, "cannot record heartbeat", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SetStatus")
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.coordinator.SetTellerStatus(r.Context(), tellerID, req.Status); err != nil {
		h.respondErr(w, log, "cannot set teller status", err)
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"teller_id": tellerID,
		"status":    req.Status,
	}, nil)
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListClaims")
	defer finish()
	log := h.log(r)

	claims, err := h.coordinator.ListActiveClaims(r.Context())
	if err != nil {
		h.respondErr(w, log, "cannot list claims", err)
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"claims":            claims,
		"staleness_seconds": int64(h.coordinator.Staleness().Seconds()),
	}, nil)
}

type queueView struct {
	QueueType string `json:"queue_type"`
	Label     string `json:"label"`
	Waiting   int64  `json:"waiting"`
	TellerID  string `json:"teller_id,omitempty"`
}

// ListQueues reports every queue type with its waiting count and current holder.
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListQueues")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	claims, err := h.coordinator.ListActiveClaims(ctx)
	if err != nil {
		h.respondErr(w, log, "cannot list claims", err)
		return
	}
	holders := make(map[string]string, len(claims))
	for _, c := range claims {
		holders[c.QueueType] = c.TellerID
	}

	queues := make([]queueView, 0, len(queuetype.All))
	for _, qt := range queuetype.All {
		n, err := h.coordinator.QueueDepth(ctx, qt.Code())
		if err != nil {
			h.respondErr(w, log, "cannot count waiting tickets", err)
			return
		}
		queues = append(queues, queueView{
			QueueType: qt.Code(),
			Label:     qt.Label(),
			Waiting:   n,
			TellerID:  holders[qt.Code()],
		})
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"queues": queues,
	}, nil)
}

func (h *Handler) QueueDepth(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.QueueDepth")
	defer finish()
	log := h.log(r)

	queueType := chi.URLParam(r, "queueType")
	n, err := h.coordinator.QueueDepth(r.Context(), queueType)
	if err != nil {
		h.respondErr(w, log, "cannot count waiting tickets", err)
		return
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"queue_type": queueType,
		"waiting":    n,
	}, nil)
}

func (h *Handler) NextCustomer(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.NextCustomer")
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}

	ticket, err := h.coordinator.NextCustomer(r.Context(), chi.URLParam(r, "queueType"), tellerID)
	if err != nil {
		h.respondErr(w, log, "cannot take next customer", err)
		return
	}

	aqm.Respond(w, http.StatusOK, h.view(ticket), nil)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTicket")
	defer finish()
	log := h.log(r)

	id, ok := ticketIDFrom(w, r)
	if !ok {
		return
	}

	ticket, err := h.coordinator.Ticket(r.Context(), id)
	if err != nil {
		h.respondErr(w, log, "cannot find ticket", err)
		return
	}

	aqm.Respond(w, http.StatusOK, h.view(ticket), nil)
}

// ListTickets filters tickets by queue_type and state, paged with limit and offset.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListTickets")
	defer finish()
	log := h.log(r)

	filter, ok := ticketFilterFrom(w, r)
	if !ok {
		return
	}

	tickets, err := h.coordinator.ListTickets(r.Context(), filter)
	if err != nil {
		h.respondErr(w, log, "cannot list tickets", err)
		return
	}

	views := make([]ticketView, 0, len(tickets))
	for i := range tickets {
		views = append(views, h.view(&tickets[i]))
	}

	aqm.Respond(w, http.StatusOK, map[string]interface{}{
		"tickets": views,
		"count":   len(views),
	}, nil)
}

func (h *Handler) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	h.ticketAction(w, r, "Handler.CompleteTransaction", h.coordinator.CompleteTransaction)
}

func (h *Handler) SkipCustomer(w http.ResponseWriter, r *http.Request) {
	h.ticketAction(w, r, "Handler.SkipCustomer", h.coordinator.SkipCustomer)
}

func (h *Handler) CallCustomer(w http.ResponseWriter, r *http.Request) {
	h.ticketAction(w, r, "Handler.CallCustomer", h.coordinator.CallCustomer)
}

func (h *Handler) UndoLast(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UndoLast")
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}

	ticket, err := h.coordinator.UndoLast(r.Context(), tellerID)
	if err != nil {
		h.respondErr(w, log, "cannot undo last action", err)
		return
	}

	aqm.Respond(w, http.StatusOK, h.view(ticket), nil)
}

type ticketActionFunc func(ctx context.Context, id TicketID, tellerID string) (*Ticket, error)

func (h *Handler) ticketAction(w http.ResponseWriter, r *http.Request, name string, action ticketActionFunc) {
	w, r, finish := h.tlm.Start(w, r, name)
	defer finish()
	log := h.log(r)

	tellerID, ok := tellerFrom(w, r)
	if !ok {
		return
	}
	id, ok := ticketIDFrom(w, r)
	if !ok {
		return
	}

	ticket, err := action(r.Context(), id, tellerID)
	if err != nil {
		h.respondErr(w, log, "cannot update ticket", err)
		return
	}

	aqm.Respond(w, http.StatusOK, h.view(ticket), nil)
}

// ticketView is a ticket as returned over HTTP, with the seconds the
// customer waited before service (or has waited so far).
type ticketView struct {
	*Ticket
	WaitingTime int64 `json:"waiting_time"`
}

func (h *Handler) view(t *Ticket) ticketView {
	return ticketView{
		Ticket:      t,
		WaitingTime: int64(t.WaitingFor(h.coordinator.now()).Seconds()),
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, log aqm.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s: %v", msg, err)
	} else {
		log.Debug(msg, "error", err)
	}
	aqm.RespondError(w, status, err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrClaimConflict),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrUndoUnavailable):
		return http.StatusConflict
	case errors.Is(err, ErrNoActiveSession),
		errors.Is(err, ErrNoCustomerAvailable),
		errors.Is(err, ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidStateTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidQueueType),
		errors.Is(err, ErrInvalidTeller),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidTicket):
		return http.StatusBadRequest
	case errors.Is(err, ErrTellerAway):
		return http.StatusLocked
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func tellerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	tellerID := r.Header.Get(TellerHeader)
	if tellerID == "" {
		aqm.RespondError(w, http.StatusUnauthorized, "Missing teller identity")
		return "", false
	}
	return tellerID, true
}

func ticketIDFrom(w http.ResponseWriter, r *http.Request) (TicketID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return uuid.Nil, false
	}
	return id, true
}

func ticketFilterFrom(w http.ResponseWriter, r *http.Request) (TicketFilter, bool) {
	var filter TicketFilter
	q := r.URL.Query()

	if v := q.Get("queue_type"); v != "" {
		filter.QueueType = &v
	}
	if v := q.Get("state"); v != "" {
		filter.State = &v
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			aqm.RespondError(w, http.StatusBadRequest, "Invalid "+name)
			return filter, false
		}
		*dst = n
	}
	return filter, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
