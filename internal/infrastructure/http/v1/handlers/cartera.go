package handlers

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/cartera"
	"osiris/internal/infrastructure/http/v1/dto"
)

// CarteraHandler exposes receivables, payables and the withholding receipts
// customers hand back.
type CarteraHandler struct {
	*BaseHandler
	service *cartera.Service
}

func NewCarteraHandler(base *BaseHandler, service *cartera.Service) *CarteraHandler {
	return &CarteraHandler{BaseHandler: base, service: service}
}

// GET /accounts
func (h *CarteraHandler) ListAccounts(c *gin.Context) {
	var q dto.AccountListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	result, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(result))
}

// GET /accounts/:id
func (h *CarteraHandler) GetAccount(c *gin.Context) {
	accountID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	account, payments, err := h.service.Get(c.Request.Context(), accountID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if payments == nil {
		payments = []cartera.Payment{}
	}
	h.OK(c, dto.AccountResponse{Account: account, Payments: payments})
}

// POST /accounts/:id/payments
func (h *CarteraHandler) RegisterPayment(c *gin.Context) {
	accountID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.PaymentRequest
	if !h.BindJSON(c, &req) {
		return
	}
	payment, err := req.ToRequest()
	if err != nil {
		h.Error(c, err)
		return
	}
	payment.AccountID = accountID
	p, account, err := h.service.RegisterPayment(c.Request.Context(), payment)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.PaymentResponse{Payment: p, Account: account})
}

// POST /received-withholdings
func (h *CarteraHandler) CreateReceived(c *gin.Context) {
	var req dto.CreateReceivedWithholdingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	rw, err := req.ToEntity()
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.service.RegisterReceived(c.Request.Context(), rw); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, rw)
}

// GET /received-withholdings
func (h *CarteraHandler) ListReceived(c *gin.Context) {
	var q dto.ReceivedWithholdingListQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	result, err := h.service.ListReceived(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(result))
}

// GET /received-withholdings/:id
func (h *CarteraHandler) GetReceived(c *gin.Context) {
	receivedID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	rw, err := h.service.GetReceived(c.Request.Context(), receivedID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rw)
}

// POST /received-withholdings/:id/apply
func (h *CarteraHandler) ApplyReceived(c *gin.Context) {
	receivedID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	rw, err := h.service.ApplyReceived(c.Request.Context(), receivedID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rw)
}

// POST /received-withholdings/:id/void
func (h *CarteraHandler) VoidReceived(c *gin.Context) {
	receivedID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.BindJSON(c, &req) {
		return
	}
	rw, err := h.service.VoidReceived(c.Request.Context(), receivedID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rw)
}
