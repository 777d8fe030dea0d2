package validation

import (
	"fmt"
	"strings"
)

// bech32Charset is the character set addresses are encoded with. The
// engine never decodes addresses, it only rejects obviously malformed
// configuration before money can be sent to it.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// ValidateAddress validates a payment address format
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	normalized := strings.ToLower(addr)
	if !strings.HasPrefix(normalized, "addr1") && !strings.HasPrefix(normalized, "addr_test1") {
		return fmt.Errorf("invalid address prefix: expected addr1 or addr_test1, got %q", addr)
	}

	data := normalized[strings.LastIndex(normalized, "1")+1:]
	if len(data) < 6 {
		return fmt.Errorf("invalid address length: data part has %d characters", len(data))
	}
	for _, c := range data {
		if !strings.ContainsRune(bech32Charset, c) {
			return fmt.Errorf("invalid address character %q", c)
		}
	}

	return nil
}

// IsTestnetAddress reports whether the address belongs to a test network
func IsTestnetAddress(addr string) bool {
	return strings.HasPrefix(strings.ToLower(addr), "addr_test1")
}

// ValidateAssetID validates a policy-id-plus-name asset identifier: a
// 56-character hex policy id optionally followed by a hex asset name.
func ValidateAssetID(id string) error {
	if id == "" {
		return fmt.Errorf("asset id cannot be empty")
	}
	if len(id) < 56 {
		return fmt.Errorf("invalid asset id length: expected at least 56 characters, got %d", len(id))
	}
	for _, c := range strings.ToLower(id) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid asset id character %q", c)
		}
	}
	return nil
}
