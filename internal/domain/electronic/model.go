// Package electronic governs the electronic twin of a fiscal document: its
// access key, its XML payload and its lifecycle at the tax authority.
package electronic

import (
	"time"

	"osiris/internal/core/entity"
	"osiris/internal/core/id"
	"osiris/internal/domain/sequence"
)

// State is the authority-side status of an electronic document.
type State string

const (
	StateQueued     State = "EN_COLA"
	StateSigned     State = "FIRMADO"
	StateSent       State = "ENVIADO"
	StateAuthorized State = "AUTORIZADO"
	StateRejected   State = "RECHAZADO"
	StateReturned   State = "DEVUELTO"
)

// Action drives the machine.
type Action string

const (
	ActionSign      Action = "firmar"
	ActionSend      Action = "enviar"
	ActionAuthorize Action = "autorizar"
	ActionReject    Action = "rechazar"
	ActionReturn    Action = "devolver"
	ActionRequeue   Action = "reencolar"
)

// ParentKind names the fiscal document an electronic document belongs to.
type ParentKind string

const (
	ParentSale        ParentKind = "sale"
	ParentWithholding ParentKind = "withholding"
)

// Document is one electronic submission unit, one-to-one with its parent.
type Document struct {
	entity.BaseEntity

	ParentKind   ParentKind            `db:"parent_kind" json:"parentKind"`
	ParentID     id.ID                 `db:"parent_id" json:"parentId"`
	DocumentType sequence.DocumentType `db:"document_type" json:"documentType"`
	AccessKey    string                `db:"access_key" json:"accessKey"`
	Environment  string                `db:"environment" json:"environment"`
	State        State                 `db:"state" json:"state"`

	// Payload is the unsigned XML, kept verbatim for replay.
	Payload   string `db:"payload" json:"-"`
	SignedXML string `db:"signed_xml" json:"-"`

	AuthorizationNumber string     `db:"authorization_number" json:"authorizationNumber,omitempty"`
	AuthorizedAt        *time.Time `db:"authorized_at" json:"authorizedAt,omitempty"`
	// Messages holds the last messages returned by the authority.
	Messages string `db:"messages" json:"messages,omitempty"`
}

func (d *Document) EntityID() id.ID { return d.ID }
func (d *Document) CurrentState() State { return d.State }
func (d *Document) SetState(s State) { d.State = s }
func (d *Document) CurrentVersion() int { return d.Version }

// InFlight reports whether the authority may still be working on it.
func (d *Document) InFlight() bool {
	switch d.State {
	case StateQueued, StateSigned, StateSent:
		return true
	}
	return false
}

// Snapshot implements entity.Snapshotter. The XML bodies are summarized by size.
func (d *Document) Snapshot() map[string]any {
	s := d.BaseSnapshot()
	s["parent_kind"] = string(d.ParentKind)
	s["parent_id"] = d.ParentID.String()
	s["document_type"] = string(d.DocumentType)
	s["access_key"] = d.AccessKey
	s["environment"] = d.Environment
	s["state"] = string(d.State)
	s["payload_bytes"] = len(d.Payload)
	s["signed"] = d.SignedXML != ""
	s["authorization_number"] = d.AuthorizationNumber
	if d.AuthorizedAt != nil {
		s["authorized_at"] = d.AuthorizedAt.UTC().Format(time.RFC3339)
	} else {
		s["authorized_at"] = nil
	}
	s["messages"] = d.Messages
	return s
}
