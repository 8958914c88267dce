// Package reference declares what the engine needs from master data: whether a
// referenced record exists and is active, and the issuer's current settings.
package reference

import (
	"context"
	"fmt"
	"strings"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// Kind names a master-data table referenced by fiscal documents.
type Kind string

const (
	KindWarehouse     Kind = "warehouse"
	KindProduct       Kind = "product"
	KindCustomer      Kind = "customer"
	KindSupplier      Kind = "supplier"
	KindEmissionPoint Kind = "emission_point"
)

// EmissionPoint is a registered point authorized to issue numbered documents.
type EmissionPoint struct {
	ID                id.ID  `db:"id"`
	EstablishmentCode string `db:"establishment_code"` // 3 digits
	PointCode         string `db:"point_code"`         // 3 digits
	Active            bool   `db:"active"`
}

// Series is the 6-digit establishment+point prefix used in the access key.
func (e EmissionPoint) Series() string {
	return e.EstablishmentCode + e.PointCode
}

// Settings are the issuer's current fiscal settings.
type Settings struct {
	RUC          string `db:"ruc"`
	BusinessName string `db:"business_name"`
	Address      string `db:"address"`
	// Environment is the access-key digit: 1 test, 2 production.
	Environment  string `db:"environment"`
	EmissionType string `db:"emission_type"`
}

// Party is a customer or supplier as printed on fiscal documents.
type Party struct {
	ID             id.ID  `db:"id"`
	Identification string `db:"identification"`
	Name           string `db:"name"`
}

// Identification type codes of the SRI buyer and withheld-subject fields.
const (
	IDTypeRUC           = "04"
	IDTypeCedula        = "05"
	IDTypePassport      = "06"
	IDTypeFinalConsumer = "07"
)

// FinalConsumerID is the identification SRI reserves for anonymous buyers.
const FinalConsumerID = "9999999999999"

// IdentificationType derives the SRI code from the shape of the
// identification: 13 digits ending in 001 is a RUC, 10 digits a cedula,
// anything else a passport.
func (p Party) IdentificationType() string {
	switch v := p.Identification; {
	case v == FinalConsumerID:
		return IDTypeFinalConsumer
	case len(v) == 13 && allDigits(v) && strings.HasSuffix(v, "001"):
		return IDTypeRUC
	case len(v) == 10 && allDigits(v):
		return IDTypeCedula
	default:
		return IDTypePassport
	}
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Product is the printable part of a product record. Code is its
// codigoPrincipal, at most 25 characters.
type Product struct {
	ID   id.ID  `db:"id"`
	Code string `db:"code"`
	Name string `db:"name"`
}

// Checker is implemented by the master-data store.
type Checker interface {
	// EmissionPoint returns the point or a NotFound error.
	EmissionPoint(ctx context.Context, pointID id.ID) (EmissionPoint, error)
	// IsActive reports existence and activity of a record.
	IsActive(ctx context.Context, kind Kind, recordID id.ID) (exists bool, active bool, err error)
	Settings(ctx context.Context) (Settings, error)
	// Party returns a customer or supplier or a NotFound error.
	Party(ctx context.Context, kind Kind, partyID id.ID) (Party, error)
	// Product returns a product or a NotFound error.
	Product(ctx context.Context, productID id.ID) (Product, error)
}

// RequireEmissionPoint loads an emission point and fails with PreconditionFailed
// when it is missing or deactivated.
func RequireEmissionPoint(ctx context.Context, c Checker, pointID id.ID) (EmissionPoint, error) {
	ep, err := c.EmissionPoint(ctx, pointID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return EmissionPoint{}, apperror.NewPreconditionFailed("emission point", pointID, "does not exist")
		}
		return EmissionPoint{}, fmt.Errorf("load emission point: %w", err)
	}
	if !ep.Active {
		return EmissionPoint{}, apperror.NewPreconditionFailed("emission point", pointID, "is deactivated")
	}
	return ep, nil
}

// RequireActive fails with PreconditionFailed when any of the records is missing or inactive.
func RequireActive(ctx context.Context, c Checker, kind Kind, ids ...id.ID) error {
	seen := make(map[id.ID]struct{}, len(ids))
	for _, recordID := range ids {
		if _, dup := seen[recordID]; dup {
			continue
		}
		seen[recordID] = struct{}{}

		exists, active, err := c.IsActive(ctx, kind, recordID)
		if err != nil {
			return fmt.Errorf("check %s: %w", kind, err)
		}
		if !exists {
			return apperror.NewPreconditionFailed(string(kind), recordID, "does not exist")
		}
		if !active {
			return apperror.NewPreconditionFailed(string(kind), recordID, "is inactive")
		}
	}
	return nil
}
