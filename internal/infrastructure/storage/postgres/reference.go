package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/reference"
)

var _ reference.Checker = (*ReferenceRepo)(nil)

// Master-data tables share their name with the reference kind.
var referenceTables = map[reference.Kind]string{
	reference.KindWarehouse:     "warehouse",
	reference.KindProduct:       "product",
	reference.KindCustomer:      "customer",
	reference.KindSupplier:      "supplier",
	reference.KindEmissionPoint: "emission_point",
}

// ReferenceRepo reads the master tables fiscal documents point at.
type ReferenceRepo struct {
	txManager *TxManager
}

func NewReferenceRepo(txManager *TxManager) *ReferenceRepo {
	return &ReferenceRepo{txManager: txManager}
}

func (r *ReferenceRepo) EmissionPoint(ctx context.Context, pointID id.ID) (reference.EmissionPoint, error) {
	var ep reference.EmissionPoint
	err := GetOne(ctx, r.txManager.GetQuerier(ctx), &ep, Builder().
		Select("id", "establishment_code", "point_code", "active").
		From("emission_point").
		Where(squirrel.Eq{"id": pointID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return reference.EmissionPoint{}, apperror.NewNotFound("emission point", pointID)
		}
		return reference.EmissionPoint{}, fmt.Errorf("load emission point: %w", err)
	}
	return ep, nil
}

func (r *ReferenceRepo) IsActive(ctx context.Context, kind reference.Kind, recordID id.ID) (bool, bool, error) {
	table, ok := referenceTables[kind]
	if !ok {
		return false, false, apperror.NewValidation("unknown reference kind").WithDetail("kind", string(kind))
	}

	var active bool
	sql, args, err := Builder().Select("active").From(table).Where(squirrel.Eq{"id": recordID}).ToSql()
	if err != nil {
		return false, false, fmt.Errorf("build query: %w", err)
	}
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("check %s: %w", table, err)
	}
	return true, active, nil
}

// partyTables are the kinds Party can read.
var partyTables = map[reference.Kind]string{
	reference.KindCustomer: "customer",
	reference.KindSupplier: "supplier",
}

func (r *ReferenceRepo) Party(ctx context.Context, kind reference.Kind, partyID id.ID) (reference.Party, error) {
	table, ok := partyTables[kind]
	if !ok {
		return reference.Party{}, apperror.NewValidation("not a party kind").WithDetail("kind", string(kind))
	}
	var p reference.Party
	err := GetOne(ctx, r.txManager.GetQuerier(ctx), &p, Builder().
		Select("id", "identification", "name").
		From(table).
		Where(squirrel.Eq{"id": partyID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return reference.Party{}, apperror.NewNotFound(string(kind), partyID)
		}
		return reference.Party{}, fmt.Errorf("load %s: %w", table, err)
	}
	return p, nil
}

func (r *ReferenceRepo) Product(ctx context.Context, productID id.ID) (reference.Product, error) {
	var p reference.Product
	err := GetOne(ctx, r.txManager.GetQuerier(ctx), &p, Builder().
		Select("id", "code", "name").
		From("product").
		Where(squirrel.Eq{"id": productID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return reference.Product{}, apperror.NewNotFound("product", productID)
		}
		return reference.Product{}, fmt.Errorf("load product: %w", err)
	}
	return p, nil
}

func (r *ReferenceRepo) Settings(ctx context.Context) (reference.Settings, error) {
	var s reference.Settings
	err := GetOne(ctx, r.txManager.GetQuerier(ctx), &s, Builder().
		Select("ruc", "business_name", "address", "environment", "emission_type").
		From("issuer_settings"))
	if err != nil {
		if pgxscan.NotFound(err) {
			return reference.Settings{}, apperror.NewPreconditionFailed("issuer settings", "default", "are not configured")
		}
		return reference.Settings{}, fmt.Errorf("load issuer settings: %w", err)
	}
	return s, nil
}
