package integration

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/consultation"
	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/migrations"
)

// The suite runs against CLINIC_TEST_DATABASE_URL when it is set. With
// CLINIC_TEST_DOCKER=1 it starts a throwaway postgres:16-alpine container
// instead. Without either every test is skipped.
const (
	envDatabaseURL = "CLINIC_TEST_DATABASE_URL"
	envDocker      = "CLINIC_TEST_DOCKER"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is the package-level test database, initialized once in TestMain.
// It stays nil when no database is configured.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := resolveDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up postgres: %v\n", err)
		os.Exit(1)
	}
	if connStr != "" {
		pool, err := db.NewPool(ctx, connStr, 4, 1)
		if err != nil {
			cleanup()
			fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
			os.Exit(1)
		}
		globalDB = &testDB{Pool: pool, ConnStr: connStr}
		prev := cleanup
		cleanup = func() {
			pool.Close()
			prev()
		}
	}

	code := m.Run()
	cleanup()
	os.Exit(code)
}

func resolveDatabase(ctx context.Context) (string, func(), error) {
	if connStr := os.Getenv(envDatabaseURL); connStr != "" {
		return connStr, func() {}, nil
	}
	if os.Getenv(envDocker) == "1" {
		return startPostgresContainer(ctx)
	}
	return "", func() {}, nil
}

func requireDB(t *testing.T) {
	t.Helper()
	if globalDB == nil {
		t.Skipf("set %s or %s=1 to run Postgres integration tests", envDatabaseURL, envDocker)
	}
}

// env is one migrated schema with the Postgres repositories and services
// wired the way the server wires them.
type env struct {
	pool    *pgxpool.Pool
	stock   *inventory.Pool
	catalog *catalog.Catalog
	svc     *consultation.Service
	ledger  *consultation.Ledger
}

// newEnv creates an isolated schema, migrates it and opens a pool whose
// connections use it as their search path. The schema is dropped when the
// test ends.
func newEnv(t *testing.T) *env {
	t.Helper()
	requireDB(t)
	ctx := context.Background()

	schema := uniqueSchema(t.Name())
	if _, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		if _, err := globalDB.Pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	connStr, err := withSearchPath(globalDB.ConnStr, schema)
	if err != nil {
		t.Fatalf("build connection string: %v", err)
	}
	pool, err := db.NewPool(ctx, connStr, 32, 1)
	if err != nil {
		t.Fatalf("open pool for %s: %v", schema, err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}

	tx := db.NewPgTransactor(pool)
	stock := inventory.NewPool(inventory.NewItemRepoPG(pool))
	cat := catalog.NewCatalog(catalog.NewProcedureRepoPG(pool), stock, tx, nil, zerolog.Nop())
	consultations := consultation.NewConsultationRepoPG(pool)
	lines := consultation.NewLineItemRepoPG(pool)
	extras := consultation.NewExtraChargeRepoPG(pool)
	svc := consultation.NewService(tx, consultations, lines, extras, stock, cat, zerolog.Nop())
	ledger := consultation.NewLedger(tx, stock, cat, lines, consultation.NewCostAggregator(consultations, lines, extras))

	return &env{pool: pool, stock: stock, catalog: cat, svc: svc, ledger: ledger}
}

func uniqueSchema(testName string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	name := strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName))
	if len(name) > 40 {
		name = name[:40]
	}
	return fmt.Sprintf("it_%s_%s", name, short)
}

func withSearchPath(connStr, schema string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: want %s, got %s", what, want, got)
	}
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !apperr.Is(err, kind) {
		t.Fatalf("expected %s error, got %s: %v", kind, apperr.KindOf(err), err)
	}
}

func (e *env) item(t *testing.T, category inventory.Category, name, onHand, unitCost string) *inventory.Item {
	t.Helper()
	it := &inventory.Item{Category: category, Name: name, Unit: "unit", OnHand: dec(onHand), UnitCost: dec(unitCost)}
	if err := e.stock.Create(context.Background(), it); err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	return it
}

func (e *env) procedure(t *testing.T, code string, fee string, components ...catalog.Component) *catalog.Procedure {
	t.Helper()
	p := &catalog.Procedure{
		Code:        code,
		Description: code,
		Active:      true,
		Components:  components,
		Fees:        []catalog.Fee{{Party: "clinic", Amount: dec(fee)}},
	}
	if err := e.catalog.Create(context.Background(), p); err != nil {
		t.Fatalf("create procedure %s: %v", code, err)
	}
	return p
}

func (e *env) open(t *testing.T, fee *decimal.Decimal) *consultation.Consultation {
	t.Helper()
	c, err := e.svc.Create(context.Background(), consultation.CreateInput{PatientID: uuid.New(), StaffID: uuid.New(), Fee: fee})
	if err != nil {
		t.Fatalf("create consultation: %v", err)
	}
	return c
}

func (e *env) onHand(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	it, err := e.stock.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %s: %v", id, err)
	}
	return it.OnHand
}

// consistent reloads the consultation and checks the stored total against
// its ledger.
func (e *env) consistent(t *testing.T, id uuid.UUID) *consultation.Consultation {
	t.Helper()
	c, err := e.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get consultation %s: %v", id, err)
	}
	if want := consultation.ComputeTotal(c.Fee, c.LineItems, c.ExtraCharges); !c.Total.Equal(want) {
		t.Fatalf("stored total %s does not match ledger %s", c.Total, want)
	}
	return c
}

func (e *env) count(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := e.pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func component(it *inventory.Item, qty string) catalog.Component {
	return catalog.Component{ItemID: it.ID, Quantity: dec(qty)}
}
