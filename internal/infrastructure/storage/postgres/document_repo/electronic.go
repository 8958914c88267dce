package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/electronic"
	"osiris/internal/infrastructure/storage/postgres"
)

const electronicTable = "electronic_document"

var _ electronic.Repository = (*ElectronicRepo)(nil)

// ElectronicRepo implements electronic.Repository.
type ElectronicRepo struct {
	*BaseDocumentRepo[*electronic.Document]
}

func NewElectronicRepo(txManager *postgres.TxManager) *ElectronicRepo {
	return &ElectronicRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(
			txManager, electronicTable, "electronic document",
			postgres.DBColumns[electronic.Document](),
			func() *electronic.Document { return &electronic.Document{} },
		),
	}
}

// Create fails with Duplicate when the access key or the parent already has a document.
func (r *ElectronicRepo) Create(ctx context.Context, doc *electronic.Document) error {
	return r.insertHeader(ctx, doc)
}

func (r *ElectronicRepo) GetByID(ctx context.Context, docID id.ID) (*electronic.Document, error) {
	return r.getHeader(ctx, docID, false)
}

func (r *ElectronicRepo) GetForUpdate(ctx context.Context, docID id.ID) (*electronic.Document, error) {
	return r.getHeader(ctx, docID, true)
}

func (r *ElectronicRepo) GetByParent(ctx context.Context, kind electronic.ParentKind, parentID id.ID) (*electronic.Document, error) {
	doc := &electronic.Document{}
	err := postgres.GetOne(ctx, r.querier(ctx), doc, r.baseSelect().
		Where(squirrel.Eq{"parent_kind": string(kind), "parent_id": parentID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("electronic document", parentID)
		}
		return nil, fmt.Errorf("get electronic document by parent: %w", err)
	}
	return doc, nil
}

func (r *ElectronicRepo) Update(ctx context.Context, doc *electronic.Document) error {
	return r.updateHeader(ctx, doc)
}

func (r *ElectronicRepo) List(ctx context.Context, f electronic.ListFilter) (domain.ListResult[*electronic.Document], error) {
	where := squirrel.And{}
	if f.State != "" {
		where = append(where, squirrel.Eq{"state": string(f.State)})
	}
	if f.ParentKind != "" {
		where = append(where, squirrel.Eq{"parent_kind": string(f.ParentKind)})
	}
	return r.listHeaders(ctx, where, f.ListFilter, "created_at")
}
