package handlers

import (
	"github.com/gin-gonic/gin"

	"osiris/internal/domain/audit"
	"osiris/internal/domain/history"
	"osiris/internal/infrastructure/http/v1/dto"
)

// LedgerHandler exposes the audit log and the state history ledgers.
// Both are read-only.
type LedgerHandler struct {
	*BaseHandler
	audit    *audit.Service
	recorder *history.Recorder
}

func NewLedgerHandler(base *BaseHandler, auditSvc *audit.Service, recorder *history.Recorder) *LedgerHandler {
	return &LedgerHandler{BaseHandler: base, audit: auditSvc, recorder: recorder}
}

// Audit lists audit rows, newest first.
// GET /audit
func (h *LedgerHandler) Audit(c *gin.Context) {
	var q dto.AuditQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	entries, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	h.OK(c, gin.H{"items": entries})
}

// History lists the transitions of one entity kind, oldest first.
// GET /history/:kind
func (h *LedgerHandler) History(c *gin.Context) {
	kind, err := history.ParseKind(c.Param("kind"))
	if err != nil {
		h.Error(c, err)
		return
	}
	var q dto.HistoryQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	entries, err := h.recorder.List(c.Request.Context(), kind, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	h.OK(c, gin.H{"items": entries})
}
