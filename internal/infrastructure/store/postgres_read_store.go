package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/example/settlement-core/internal/readmodel"
)

// PostgresReadStore implements ReadStoreInterface on PostgreSQL. Each
// collection lives in its own read_* table with the model serialized as
// JSONB, which keeps projection writes a single upsert.
type PostgresReadStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

var readTables = map[string]string{
	CollectionOrders:        "read_orders",
	CollectionDisputes:      "read_disputes",
	CollectionRefunds:       "read_refunds",
	CollectionSubscriptions: "read_subscriptions",
	CollectionTransactions:  "read_transactions",
}

func tableFor(collection string) (string, error) {
	t, ok := readTables[collection]
	if !ok {
		return "", fmt.Errorf("unknown read collection %q", collection)
	}
	return t, nil
}

func newModel(collection string) any {
	switch collection {
	case CollectionOrders:
		return &readmodel.OrderReadModel{}
	case CollectionDisputes:
		return &readmodel.DisputeReadModel{}
	case CollectionRefunds:
		return &readmodel.RefundReadModel{}
	case CollectionSubscriptions:
		return &readmodel.SubscriptionReadModel{}
	case CollectionTransactions:
		return &readmodel.TransactionReadModel{}
	}
	return nil
}

// Set upserts a read model.
func (rs *PostgresReadStore) Set(collection, id string, data any) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, data, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		table,
	)
	_, err = rs.db.ExecContext(context.Background(), query, id, payload)
	return err
}

// Get retrieves a read model by id.
func (rs *PostgresReadStore) Get(collection, id string) (any, bool, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	query := fmt.Sprintf("SELECT data FROM %s WHERE id = $1", table)
	err = rs.db.QueryRowContext(context.Background(), query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	model := newModel(collection)
	if err := json.Unmarshal(payload, model); err != nil {
		return nil, false, err
	}
	return model, true, nil
}

// GetAll retrieves all items in a collection.
func (rs *PostgresReadStore) GetAll(collection string) ([]any, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT data FROM %s ORDER BY updated_at DESC", table)
	rows, err := rs.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []any
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			log.Printf("[ReadStore] Scan error in %s: %v", table, err)
			continue
		}
		model := newModel(collection)
		if err := json.Unmarshal(payload, model); err != nil {
			log.Printf("[ReadStore] Unmarshal error in %s: %v", table, err)
			continue
		}
		items = append(items, model)
	}
	return items, rows.Err()
}

// Delete removes a read model.
func (rs *PostgresReadStore) Delete(collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", table)
	_, err = rs.db.ExecContext(context.Background(), query, id)
	return err
}

// Update applies updateFn under a store-wide mutex. Projection is
// single-writer per process, so contention here is negligible.
func (rs *PostgresReadStore) Update(collection, id string, updateFn func(current any) any) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	current, ok, err := rs.Get(collection, id)
	if err != nil || !ok {
		return false, err
	}
	return true, rs.Set(collection, id, updateFn(current))
}
