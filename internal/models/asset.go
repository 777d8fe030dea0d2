package models

// AssetState is the delivery lifecycle state of a deliverable asset.
type AssetState string

const (
	// AssetAvailable means the asset may be selected for a vend.
	AssetAvailable AssetState = "available"
	// AssetReserved means the asset is bound to an in-flight vend attempt.
	AssetReserved AssetState = "reserved"
	// AssetDelivered means the asset has been minted to a buyer. Terminal.
	AssetDelivered AssetState = "delivered"
)

// AssetRecord is one deliverable unit: a file-backed metadata descriptor
// with a unique on-chain asset name. Exactly one record may ever be bound
// to one delivered output across the system's lifetime.
type AssetRecord struct {
	// Name is the on-chain asset name, unique within the minting policy.
	Name string `json:"name" gorm:"column:name;primaryKey"`
	// MetadataPath is the path of the JSON metadata descriptor file.
	MetadataPath string `json:"metadata_path" gorm:"column:metadata_path;not null"`
	// State is the delivery lifecycle state.
	State AssetState `json:"state" gorm:"column:state;index;default:available"`
	// UpdatedAt is the Unix timestamp of the last state change.
	UpdatedAt int64 `json:"updated_at" gorm:"column:updated_at"`
}
