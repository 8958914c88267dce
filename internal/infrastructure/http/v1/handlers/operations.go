package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"osiris/internal/domain/sequence"
	"osiris/internal/domain/sriqueue"
	"osiris/internal/infrastructure/http/v1/dto"
	"osiris/internal/infrastructure/notify"
)

// deadLetterPreview is how many dead-letter entries ListQueue shows.
const deadLetterPreview = 20

// DeadLetterReader reads the list of submissions that exhausted their
// attempts. notify.Notifier implements it.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context, limit int64) ([]notify.DeadLetterEntry, error)
	DeadLetterLength(ctx context.Context) (int64, error)
}

// OperationsHandler serves operator tooling: the submission queue and
// sequence gap monitoring.
type OperationsHandler struct {
	*BaseHandler
	queue       *sriqueue.Service
	sequences   *sequence.Service
	deadLetters DeadLetterReader
}

// NewOperationsHandler creates the handler. deadLetters may be nil when
// Redis is not configured.
func NewOperationsHandler(base *BaseHandler, queue *sriqueue.Service, sequences *sequence.Service, deadLetters DeadLetterReader) *OperationsHandler {
	return &OperationsHandler{BaseHandler: base, queue: queue, sequences: sequences, deadLetters: deadLetters}
}

// GET /sri-queue
func (h *OperationsHandler) ListQueue(c *gin.Context) {
	var q dto.QueueQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	items, total, err := h.queue.List(ctx, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.Error(c, err)
		return
	}
	if items == nil {
		items = []*sriqueue.Item{}
	}
	resp := dto.QueueListResponse{Items: items, TotalCount: total, Stats: stats}
	if h.deadLetters != nil {
		dl, err := h.readDeadLetters(ctx)
		if err != nil {
			h.Error(c, err)
			return
		}
		resp.DeadLetters = dl
	}
	h.OK(c, resp)
}

func (h *OperationsHandler) readDeadLetters(ctx context.Context) (*dto.DeadLetterSummary, error) {
	count, err := h.deadLetters.DeadLetterLength(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := h.deadLetters.DeadLetters(ctx, deadLetterPreview)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []notify.DeadLetterEntry{}
	}
	return &dto.DeadLetterSummary{Count: count, Recent: recent}, nil
}

// Requeue puts a failed or returned submission back in line.
// POST /sri-queue/:id/requeue
func (h *OperationsHandler) Requeue(c *gin.Context) {
	itemID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.RequeueRequest
	if !h.BindJSON(c, &req) {
		return
	}
	item, err := h.queue.Requeue(c.Request.Context(), itemID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, item)
}

// GET /sequences/gaps
func (h *OperationsHandler) Gaps(c *gin.Context) {
	var q dto.GapQuery
	if !h.BindQuery(c, &q) {
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	report, err := h.sequences.Gaps(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

// AdjustSequence moves a counter forward. Administrators only.
// POST /sequences/adjust
func (h *OperationsHandler) AdjustSequence(c *gin.Context) {
	var req dto.AdjustSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	adj, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}
	previous, err := h.sequences.AdjustManual(c.Request.Context(), adj)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.AdjustSequenceResponse{
		EmissionPointID: adj.EmissionPointID.String(),
		DocumentType:    string(adj.DocumentType),
		PreviousValue:   previous,
		CurrentValue:    adj.NewValue,
	})
}
