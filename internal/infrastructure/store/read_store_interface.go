package store

// Read model collections maintained by the projector. "transactions" is the
// idempotency index for gateway webhook deliveries.
const (
	CollectionOrders        = "orders"
	CollectionDisputes      = "disputes"
	CollectionRefunds       = "refunds"
	CollectionSubscriptions = "subscriptions"
	CollectionTransactions  = "transactions"
)

// ReadStoreInterface is the query-side storage contract.
type ReadStoreInterface interface {
	// Set stores a read model.
	Set(collection, id string, data any) error

	// Get retrieves a read model by id.
	Get(collection, id string) (any, bool, error)

	// GetAll retrieves all items in a collection.
	GetAll(collection string) ([]any, error)

	// Delete removes a read model.
	Delete(collection, id string) error

	// Update modifies a read model in place; returns false if absent.
	Update(collection, id string, updateFn func(current any) any) (bool, error)
}
