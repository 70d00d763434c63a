package ledger

import (
	"sync"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// AssetRegistry is the ordered, dynamic asset universe. Enumeration order is
// registration order and defines the slot order of every decryption snapshot,
// so the registry feeds both submission validation and snapshot assembly.
type AssetRegistry struct {
	mu    sync.RWMutex
	order []interfaces.AssetID
	index map[interfaces.AssetID]int
}

// NewAssetRegistry creates an empty registry.
func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{index: make(map[interfaces.AssetID]int)}
}

// register appends an asset. Returns false if the asset is already present.
func (r *AssetRegistry) register(asset interfaces.AssetID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[asset]; ok {
		return 0, false
	}
	pos := len(r.order)
	r.order = append(r.order, asset)
	r.index[asset] = pos
	return pos, true
}

// unregisterLast removes the most recently registered asset. Used only to
// roll back a registration whose persistence failed.
func (r *AssetRegistry) unregisterLast() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return
	}
	last := r.order[len(r.order)-1]
	r.order = r.order[:len(r.order)-1]
	delete(r.index, last)
}

// Contains reports whether the asset is registered.
func (r *AssetRegistry) Contains(asset interfaces.AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[asset]
	return ok
}

// Assets returns a copy of the registered assets in registration order.
func (r *AssetRegistry) Assets() []interfaces.AssetID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]interfaces.AssetID, len(r.order))
	copy(res, r.order)
	return res
}

// Len returns the number of registered assets.
func (r *AssetRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
