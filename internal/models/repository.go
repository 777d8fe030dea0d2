package models

// Repository is the durable state store owned by the vending engine:
// the processed-payments log, the in-progress marker store and the
// whitelist/asset consumption records. Correctness across restarts
// depends on this state, never on in-memory sets.
type Repository interface {
	// Processed-payments log (append-only).
	IsProcessed(paymentID string) (bool, error)
	MarkProcessed(p *ProcessedPayment) error
	ProcessedCount() (int64, error)
	RevenueTotal() (int64, error)

	// In-progress markers.
	GetMarker(paymentID string) (*VendMarker, error)
	PutMarker(m *VendMarker) error
	DeleteMarker(paymentID string) error
	ListMarkersByState(state VendState) ([]*VendMarker, error)

	// Whitelist consumption records. AddConsumption is idempotent per
	// reservation id and reports whether the record was newly inserted.
	AddConsumption(c *WhitelistConsumption) (bool, error)
	DeleteConsumption(reservationID string) error
	ConsumedByKey(key string) (int, error)

	// Asset pool records. SaveAssetRecord keeps the existing state when a
	// record is already known.
	SaveAssetRecord(r *AssetRecord) error
	ListAssetRecords() ([]*AssetRecord, error)
	SetAssetStates(names []string, state AssetState) error
	AssetCountByState(state AssetState) (int64, error)

	Close() error
}
