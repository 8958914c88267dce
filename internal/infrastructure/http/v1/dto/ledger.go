package dto

import (
	"time"

	"osiris/internal/domain/audit"
	"osiris/internal/domain/history"
	"osiris/internal/domain/sequence"
	"osiris/internal/domain/sriqueue"
	"osiris/internal/infrastructure/notify"
)

type AuditQuery struct {
	EntityType string     `form:"entityType"`
	EntityID   string     `form:"entityId"`
	ActorID    string     `form:"actorId"`
	Action     string     `form:"action"`
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit      int        `form:"limit"`
	Offset     int        `form:"offset"`
}

func (q AuditQuery) ToFilter() (audit.Filter, error) {
	f := audit.Filter{
		EntityType: q.EntityType,
		ActorID:    q.ActorID,
		Action:     audit.Action(q.Action),
		From:       q.From,
		To:         q.To,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	var err error
	f.EntityID, err = ParseOptionalID("entityId", q.EntityID)
	return f, err
}

type HistoryQuery struct {
	EntityID string     `form:"entityId"`
	ActorID  string     `form:"actorId"`
	From     *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int        `form:"limit"`
	Offset   int        `form:"offset"`
}

func (q HistoryQuery) ToFilter() (history.Filter, error) {
	f := history.Filter{ActorID: q.ActorID, From: q.From, To: q.To, Limit: q.Limit, Offset: q.Offset}
	var err error
	f.EntityID, err = ParseOptionalID("entityId", q.EntityID)
	return f, err
}

type QueueQuery struct {
	State    string `form:"state"`
	EntityID string `form:"entityId"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

func (q QueueQuery) ToFilter() (sriqueue.Filter, error) {
	f := sriqueue.Filter{State: sriqueue.State(q.State), Limit: q.Limit, Offset: q.Offset}
	var err error
	f.EntityID, err = ParseOptionalID("entityId", q.EntityID)
	return f, err
}

// QueueListResponse carries the items plus the per-state counters.
type QueueListResponse struct {
	Items      []*sriqueue.Item `json:"items"`
	TotalCount int              `json:"totalCount"`
	Stats      sriqueue.Stats   `json:"stats"`
	// DeadLetters is absent when no dead-letter store is configured.
	DeadLetters *DeadLetterSummary `json:"deadLetters,omitempty"`
}

// DeadLetterSummary is the size of the dead-letter list and its newest entries.
type DeadLetterSummary struct {
	Count  int64                    `json:"count"`
	Recent []notify.DeadLetterEntry `json:"recent"`
}

type RequeueRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type GapQuery struct {
	EmissionPointID string `form:"emissionPointId"`
	DocumentType    string `form:"documentType"`
	// OlderThanMinutes skips allocations that may still be committing.
	OlderThanMinutes int `form:"olderThanMinutes"`
	Limit            int `form:"limit"`
}

func (q GapQuery) ToFilter() (sequence.GapFilter, error) {
	f := sequence.GapFilter{
		DocumentType: sequence.DocumentType(q.DocumentType),
		OlderThan:    time.Duration(q.OlderThanMinutes) * time.Minute,
		Limit:        q.Limit,
	}
	var err error
	f.EmissionPointID, err = ParseOptionalID("emissionPointId", q.EmissionPointID)
	return f, err
}

type AdjustSequenceRequest struct {
	EmissionPointID string `json:"emissionPointId" binding:"required"`
	DocumentType    string `json:"documentType" binding:"required"`
	NewValue        int64  `json:"newValue" binding:"required,gt=0"`
	Justification   string `json:"justification" binding:"required"`
}

func (r *AdjustSequenceRequest) ToDomain() (sequence.AdjustRequest, error) {
	pointID, err := ParseID("emissionPointId", r.EmissionPointID)
	if err != nil {
		return sequence.AdjustRequest{}, err
	}
	return sequence.AdjustRequest{
		EmissionPointID: pointID,
		DocumentType:    sequence.DocumentType(r.DocumentType),
		NewValue:        r.NewValue,
		Justification:   r.Justification,
	}, nil
}

type AdjustSequenceResponse struct {
	EmissionPointID string `json:"emissionPointId"`
	DocumentType    string `json:"documentType"`
	PreviousValue   int64  `json:"previousValue"`
	CurrentValue    int64  `json:"currentValue"`
}
