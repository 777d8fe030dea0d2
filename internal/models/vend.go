package models

// VendState is the orchestration state of one payment observation.
type VendState string

const (
	// VendReserved means whitelist quota and asset records are held for the
	// payment but no transaction has been handed to the signer yet.
	VendReserved VendState = "reserved"
	// VendSubmitted means a transaction plan was handed to the external
	// signer. A marker in this state survives a crash mid-submission.
	VendSubmitted VendState = "submitted"
	// VendReleased means a failed attempt returned its reservations; the
	// payment is eligible for rediscovery, carrying its retry count.
	VendReleased VendState = "released"
	// VendAbandoned means the payment cannot be served and requires
	// operator intervention. Terminal; never retried automatically.
	VendAbandoned VendState = "abandoned"
)

// VendRequest is the orchestrator's unit of work: one payment observation
// bound to its computed entitlement. It is exclusively owned by the
// orchestrator for the duration of one attempt.
type VendRequest struct {
	// ID identifies the attempt (and its plan) across restarts.
	ID string `json:"id"`
	// Payment is the observation being served.
	Payment PaymentObservation `json:"payment"`
	// Units is the purchased unit count.
	Units int64 `json:"units"`
	// Bonus is the bonus unit count granted on top of Units.
	Bonus int64 `json:"bonus"`
	// UnitPrice is the matched tier price per unit.
	UnitPrice Value `json:"unit_price"`
	// Records are the asset records reserved for delivery.
	Records []AssetRecord `json:"records"`
	// WhitelistKey is the key the whitelist reservation was taken against,
	// empty when no whitelist applies.
	WhitelistKey string `json:"whitelist_key,omitempty"`
	// WhitelistReservationID identifies the whitelist reservation for
	// idempotent commit across restarts.
	WhitelistReservationID string `json:"whitelist_reservation_id,omitempty"`
}

// TotalUnits returns purchased plus bonus units.
func (r *VendRequest) TotalUnits() int64 {
	return r.Units + r.Bonus
}

// VendMarker is the durable per-observation record of an in-flight or
// abandoned vend attempt. Absence of a marker means Discovered.
type VendMarker struct {
	// PaymentID is the observation identifier (tx hash + output index).
	PaymentID string `json:"payment_id" gorm:"column:payment_id;primaryKey"`
	// State is the current orchestration state.
	State VendState `json:"state" gorm:"column:state;index;not null"`
	// RequestJSON is the serialized VendRequest of the attempt.
	RequestJSON string `json:"request_json" gorm:"column:request_json;type:text"`
	// TxID is the broadcast transaction id, set once the signer accepted
	// the plan.
	TxID string `json:"tx_id" gorm:"column:tx_id"`
	// Retries counts failed attempts for this payment.
	Retries int `json:"retries" gorm:"column:retries"`
	// Reason records why a payment was abandoned.
	Reason string `json:"reason" gorm:"column:reason"`
	// UpdatedAt is the Unix timestamp of the last transition.
	UpdatedAt int64 `json:"updated_at" gorm:"column:updated_at;index"`
}

// ProcessedPayment is one entry of the append-only processed-payments log.
// Presence of an entry is the terminal Completed state.
type ProcessedPayment struct {
	// PaymentID is the observation identifier.
	PaymentID string `json:"payment_id" gorm:"column:payment_id;primaryKey"`
	// TxID is the delivery transaction that served the payment.
	TxID string `json:"tx_id" gorm:"column:tx_id;not null"`
	// Amount is the received lovelace amount, kept for revenue reporting.
	Amount int64 `json:"amount" gorm:"column:amount"`
	// CompletedAt is the Unix timestamp of completion.
	CompletedAt int64 `json:"completed_at" gorm:"column:completed_at;index"`
}

// WhitelistConsumption is one durable whitelist quota commitment.
// The reservation id primary key makes re-running a commit idempotent.
type WhitelistConsumption struct {
	// ReservationID is the unique id of the committed reservation.
	ReservationID string `json:"reservation_id" gorm:"column:reservation_id;primaryKey"`
	// Key is the whitelist key the quota was consumed against.
	Key string `json:"key" gorm:"column:key;index;not null"`
	// Count is the number of units consumed.
	Count int `json:"count" gorm:"column:count;not null"`
	// ConsumedAt is the Unix timestamp of the commitment.
	ConsumedAt int64 `json:"consumed_at" gorm:"column:consumed_at"`
}
