package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// DeliveryIDKey carries the per-message delivery id so that storage and
	// notification logs can be correlated with the ingestion log line.
	DeliveryIDKey = ContextKey("delivery_id")
)
