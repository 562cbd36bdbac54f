package middleware

import "github.com/aretw0/concord/pkg/ports"

// Middleware allows wrapping a KVStore to add behavior.
type Middleware func(ports.KVStore) ports.KVStore

// Chain wraps store with mws so that the first middleware is the outermost:
// Chain(s, a, b) behaves as a(b(s)).
func Chain(store ports.KVStore, mws ...Middleware) ports.KVStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
