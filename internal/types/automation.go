package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// AutomationRequest is the unit of work handed to the external keeper
// registry: who asked, what to call, and how the execution gas is paid.
type AutomationRequest struct {
	User        string `json:"user"`
	Target      string `json:"target"`
	Referer     string `json:"referer,omitempty"`
	CallData    []byte `json:"call_data"`
	GasLimit    uint64 `json:"gas_limit"`
	GasPrice    string `json:"gas_price"`
	PayWithFees bool   `json:"pay_with_fees"` // true: protocol fee token, false: target balance
}

// Hash returns the registry key for the request. The registry deduplicates
// and dispatches on this value.
func (r AutomationRequest) Hash() string {
	raw, _ := json.Marshal(r)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
