// Package middleware decorates a FormStore with encryption and redaction.
package middleware

import "github.com/aretw0/formtree/pkg/ports"

// Middleware allows wrapping a FormStore to add behavior.
type Middleware func(ports.FormStore) ports.FormStore

// Chain applies middlewares so that the first one is the outermost.
func Chain(store ports.FormStore, mws ...Middleware) ports.FormStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
