package simulations

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hedgevault/dnv/internal/types"
)

var (
	ErrRequestExists  = errors.New("automation request already registered")
	ErrRequestUnknown = errors.New("automation request not registered")
)

// AutomationRegistry is an in-memory stand-in for the external keeper
// dispatch registry. It stores requests by hash; actual dispatch belongs to
// keeper infrastructure, so tests drive execution directly.
type AutomationRegistry struct {
	mu       sync.Mutex
	requests map[string]types.AutomationRequest
}

// NewAutomationRegistry creates an empty registry.
func NewAutomationRegistry() *AutomationRegistry {
	return &AutomationRegistry{requests: make(map[string]types.AutomationRequest)}
}

// Register stores the request and returns its hash.
func (r *AutomationRegistry) Register(req types.AutomationRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash := req.Hash()
	if _, ok := r.requests[hash]; ok {
		return "", fmt.Errorf("%w: %s", ErrRequestExists, hash)
	}
	r.requests[hash] = req
	return hash, nil
}

// Cancel removes a registered request.
func (r *AutomationRegistry) Cancel(hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[hash]; !ok {
		return fmt.Errorf("%w: %s", ErrRequestUnknown, hash)
	}
	delete(r.requests, hash)
	return nil
}

// Registered returns the request stored under hash, if any.
func (r *AutomationRegistry) Registered(hash string) (types.AutomationRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[hash]
	return req, ok
}

// Len returns the number of registered requests.
func (r *AutomationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
