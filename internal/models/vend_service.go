package models

// VendStatus is a point-in-time snapshot of the vending engine, served by
// the HTTP status API.
type VendStatus struct {
	PaymentAddress    string `json:"payment_address"`
	AssetsAvailable   int64  `json:"assets_available"`
	AssetsReserved    int64  `json:"assets_reserved"`
	AssetsDelivered   int64  `json:"assets_delivered"`
	PaymentsProcessed int64  `json:"payments_processed"`
	RevenueLovelace   int64  `json:"revenue_lovelace"`
}

// VendService is the engine surface exposed to the HTTP API.
type VendService interface {
	// Status returns the current engine snapshot.
	Status() (*VendStatus, error)
	// Abandoned lists payments that require operator intervention.
	Abandoned() ([]*VendMarker, error)
}

// APIServer is the HTTP API lifecycle contract.
type APIServer interface {
	Start()
	Shutdown() error
}
