package gateway

// Router picks the rail for a settlement kind. Kinds without an explicit
// mapping fall through to the default gateway.
type Router struct {
	byKind   map[string]Gateway
	fallback Gateway
}

// NewRouter creates a router with a default gateway.
func NewRouter(fallback Gateway) *Router {
	return &Router{
		byKind:   make(map[string]Gateway),
		fallback: fallback,
	}
}

// Route maps a settlement kind to a specific gateway.
func (r *Router) Route(kind string, gw Gateway) {
	r.byKind[kind] = gw
}

// For returns the gateway handling the given settlement kind.
func (r *Router) For(kind string) (Gateway, error) {
	if gw, ok := r.byKind[kind]; ok {
		return gw, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, ErrNoGatewayFor
}
