// Package pgtest starts a throwaway PostgreSQL for repository tests.
package pgtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"osiris/internal/core/id"
	"osiris/internal/infrastructure/storage/postgres"
)

var (
	once     sync.Once
	dsn      string
	startErr error
)

// DB is a migrated database shared by the tests of one package.
type DB struct {
	Pool *postgres.Pool
	TxM  *postgres.TxManager
}

// New returns a clean database. The container is started once per test
// binary; every call truncates all tables. Skipped under -short.
func New(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}

	ctx := context.Background()
	once.Do(func() {
		var container *tcpostgres.PostgresContainer
		container, startErr = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("osiris_test"),
			tcpostgres.WithUsername("osiris"),
			tcpostgres.WithPassword("osiris"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if startErr != nil {
			return
		}
		dsn, startErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, startErr, "start postgres container")

	cfg := postgres.DefaultPoolConfig(dsn)
	cfg.MinConns = 1
	cfg.MaxConns = 10
	pool, err := postgres.NewPool(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `
		TRUNCATE received_withholding_line, received_withholding, account_payment, account,
		         sri_queue_item, electronic_document, withholding_line, withholding,
		         purchase_line, purchase, sale_line, sale, inventory_movement, stock_level,
		         sale_state_history, purchase_state_history, withholding_state_history,
		         electronic_document_state_history, audit_log, sequence_allocation,
		         emission_point_sequence, sys_idempotency, customer, supplier, product,
		         warehouse, emission_point, issuer_settings CASCADE`)
	require.NoError(t, err)

	return &DB{Pool: pool, TxM: postgres.NewTxManager(pool)}
}

// Seed holds master data inserted by SeedMaster.
type Seed struct {
	EmissionPointID id.ID
	WarehouseID     id.ID
	ProductID       id.ID
	CustomerID      id.ID
	SupplierID      id.ID
}

// SeedMaster inserts one active record of each master table plus issuer settings.
func (db *DB) SeedMaster(t *testing.T) Seed {
	t.Helper()
	ctx := context.Background()
	s := Seed{
		EmissionPointID: id.New(),
		WarehouseID:     id.New(),
		ProductID:       id.New(),
		CustomerID:      id.New(),
		SupplierID:      id.New(),
	}
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO issuer_settings (ruc, business_name, address, environment) VALUES ('1790012345001', 'Comercial Andina S.A.', 'Av. Amazonas N34-451, Quito', '1')`, nil},
		{`INSERT INTO emission_point (id, establishment_code, point_code) VALUES ($1, '001', '002')`, []any{s.EmissionPointID}},
		{`INSERT INTO warehouse (id, name) VALUES ($1, 'Bodega Matriz')`, []any{s.WarehouseID}},
		{`INSERT INTO product (id, code, name) VALUES ($1, 'ARR-2KG', 'Arroz 2kg')`, []any{s.ProductID}},
		{`INSERT INTO customer (id, identification, name) VALUES ($1, '0912345678', 'Consumidor')`, []any{s.CustomerID}},
		{`INSERT INTO supplier (id, identification, name) VALUES ($1, '0990012345001', 'Distribuidora Costa')`, []any{s.SupplierID}},
	}
	for _, st := range stmts {
		_, err := db.Pool.Exec(ctx, st.sql, st.args...)
		require.NoError(t, err)
	}
	return s
}
