// Package gateway is the order-store boundary. It is the only component
// allowed to touch the database, and it enforces the read-only rule for the
// query path independently of whatever the completion service was told.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	StatusReturned = "returned"

	defaultRowLimit = 5
	maxCellWidth    = 120
)

type Config struct {
	DSN      string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout  time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	RowLimit int           `envconfig:"ROW_LIMIT" split_words:"true" default:"5"`
}

// Order maps the olist orders table.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID                  string    `bun:"order_id,pk"`
	CustomerID               string    `bun:"customer_id"`
	OrderStatus              string    `bun:"order_status"`
	PurchaseTimestamp        time.Time `bun:"order_purchase_timestamp,nullzero"`
	DeliveredCustomerDate    time.Time `bun:"order_delivered_customer_date,nullzero"`
	EstimatedDeliveryDate    time.Time `bun:"order_estimated_delivery_date,nullzero"`
	DeliveredCarrierDate     time.Time `bun:"order_delivered_carrier_date,nullzero"`
	ApprovedAt               time.Time `bun:"order_approved_at,nullzero"`
}

// OrderStore implements contract.Gateway on top of bun/Postgres.
type OrderStore struct {
	db       *bun.DB
	rowLimit int
}

var _ contractx.Gateway = (*OrderStore)(nil)

func New(cfg Config) (*OrderStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	pgOpts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.Timeout > 0 {
		pgOpts = append(pgOpts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgOpts...))
	db := bun.NewDB(sqldb, pgdialect.New())

	rowLimit := cfg.RowLimit
	if rowLimit <= 0 {
		rowLimit = defaultRowLimit
	}

	return &OrderStore{db: db, rowLimit: rowLimit}, nil
}

// NewWithDB wraps an existing bun.DB; used by tests.
func NewWithDB(db *bun.DB, rowLimit int) *OrderStore {
	if rowLimit <= 0 {
		rowLimit = defaultRowLimit
	}
	return &OrderStore{db: db, rowLimit: rowLimit}
}

func (s *OrderStore) Dialect() string { return "PostgreSQL" }

func (s *OrderStore) RowLimit() int { return s.rowLimit }

func (s *OrderStore) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := s.db.NewSelect().
		Table("information_schema.tables").
		Column("table_name").
		Where("table_schema = 'public'").
		Order("table_name").
		Scan(ctx, &tables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func (s *OrderStore) Schema(ctx context.Context, tables []string) (string, error) {
	if len(tables) == 0 {
		return "", nil
	}

	type column struct {
		TableName  string `bun:"table_name"`
		ColumnName string `bun:"column_name"`
		DataType   string `bun:"data_type"`
	}

	var cols []column
	err := s.db.NewSelect().
		Table("information_schema.columns").
		Column("table_name", "column_name", "data_type").
		Where("table_schema = 'public'").
		Where("table_name IN (?)", bun.In(tables)).
		Order("table_name", "ordinal_position").
		Scan(ctx, &cols)
	if err != nil {
		return "", fmt.Errorf("describe tables: %w", err)
	}

	var b strings.Builder
	current := ""
	for _, c := range cols {
		if c.TableName != current {
			if current != "" {
				b.WriteString("\n")
			}
			current = c.TableName
			fmt.Fprintf(&b, "table %s:\n", c.TableName)
		}
		fmt.Fprintf(&b, "  %s %s\n", c.ColumnName, c.DataType)
	}
	return b.String(), nil
}

// Query executes a read statement and renders the rows as text. Any
// statement whose verb is not a read is rejected before touching the
// database, no matter what instructions produced it.
func (s *OrderStore) Query(ctx context.Context, sqlText string) (string, error) {
	if err := EnsureReadOnly(sqlText); err != nil {
		return "", err
	}

	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return "", fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("read columns: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString("\n")

	count := 0
	for rows.Next() {
		if count >= s.rowLimit {
			fmt.Fprintf(&b, "... (truncated at %d rows)\n", s.rowLimit)
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}

		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = renderCell(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate rows: %w", err)
	}
	if count == 0 {
		b.WriteString("(no rows)\n")
	}
	return b.String(), nil
}

func (s *OrderStore) Exists(ctx context.Context, orderID string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, fmt.Errorf("%w: order id is empty", contractx.ErrValidation)
	}
	exists, err := s.db.NewSelect().
		Model((*Order)(nil)).
		Where("order_id = ?", orderID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check order existence: %w", err)
	}
	return exists, nil
}

func (s *OrderStore) Status(ctx context.Context, orderID string) (string, error) {
	var status string
	err := s.db.NewSelect().
		Model((*Order)(nil)).
		Column("order_status").
		Where("order_id = ?", orderID).
		Scan(ctx, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", contractx.ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read order status: %w", err)
	}
	return status, nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, orderID, status string) error {
	res, err := s.db.NewUpdate().
		Model((*Order)(nil)).
		Set("order_status = ?", status).
		Where("order_id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrWriteFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrWriteFailed, err)
	}
	if affected == 0 {
		return contractx.ErrOrderNotFound
	}
	return nil
}

// EnsureReadOnly rejects any statement whose leading verb is not a read.
// Multiple statements are rejected outright.
func EnsureReadOnly(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", contractx.ErrValidation)
	}

	if rest := strings.TrimRight(trimmed, "; \t\n"); strings.Contains(rest, ";") {
		return fmt.Errorf("%w: multiple statements", contractx.ErrQueryRejected)
	}

	verb := leadingVerb(trimmed)
	switch verb {
	case "SELECT", "EXPLAIN", "SHOW":
		return nil
	case "WITH":
		// Postgres allows data-modifying CTEs, so WITH alone proves nothing.
		for _, f := range strings.Fields(strings.ToUpper(trimmed)) {
			switch strings.Trim(f, "(),;") {
			case "INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "CREATE", "GRANT":
				return fmt.Errorf("%w: data-modifying CTE", contractx.ErrQueryRejected)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: verb=%s", contractx.ErrQueryRejected, verb)
	}
}

func leadingVerb(sqlText string) string {
	s := strings.TrimSpace(sqlText)
	for strings.HasPrefix(s, "--") || strings.HasPrefix(s, "/*") {
		if strings.HasPrefix(s, "--") {
			idx := strings.Index(s, "\n")
			if idx < 0 {
				return ""
			}
			s = strings.TrimSpace(s[idx+1:])
			continue
		}
		idx := strings.Index(s, "*/")
		if idx < 0 {
			return ""
		}
		s = strings.TrimSpace(s[idx+2:])
	}

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func renderCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return clip(string(val))
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return clip(fmt.Sprint(val))
	}
}

func clip(s string) string {
	if len(s) <= maxCellWidth {
		return s
	}
	return s[:maxCellWidth] + "..."
}
