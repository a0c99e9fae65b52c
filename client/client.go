// Package client dials a GPCP peer directly or through service discovery,
// the counterpart of the teacher's client.Client.Call but built directly on
// endpoint.Endpoint rather than a shared ClientTransport pool: every
// endpoint already multiplexes outbound calls over its correlation map, so
// there is no separate pooling layer to maintain here.
package client

import (
	"context"
	"fmt"
	"net"

	"gpcp/endpoint"
	"gpcp/gpcperr"
	"gpcp/handler"
	"gpcp/loadbalance"
	"gpcp/middleware"
	"gpcp/registry"
)

// Dial connects to address and negotiates an endpoint with the given local
// role and command registry.
func Dial(ctx context.Context, network, address string, role endpoint.Role, h *handler.Instance, mw ...middleware.Middleware) (*endpoint.Endpoint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, gpcperr.New(gpcperr.UnmetPreconditionError, "client: dial", err)
	}
	return endpoint.New(conn, role, h, mw...)
}

// DialDiscover resolves namespace through reg, selects one instance via bal,
// and dials it. It mirrors the teacher's discover-then-pick-then-connect
// call path, minus the shared transport pool: each resulting endpoint
// already multiplexes its own outbound calls.
func DialDiscover(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, namespace, network string, role endpoint.Role, h *handler.Instance, mw ...middleware.Middleware) (*endpoint.Endpoint, error) {
	instances, err := reg.Discover(namespace)
	if err != nil {
		return nil, fmt.Errorf("client: discover %q: %w", namespace, err)
	}

	instance, err := bal.Pick(instances, role)
	if err != nil {
		return nil, fmt.Errorf("client: pick instance for %q: %w", namespace, err)
	}

	return Dial(ctx, network, instance.Addr, role, h, mw...)
}
