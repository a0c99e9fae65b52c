// Package endpoint implements the per-connection state machine: role
// negotiation, the dispatcher-fed main loop, outbound command invocation,
// and idempotent shutdown — the Go counterpart of the source's
// core/endpoint.py, reshaped around a goroutine-per-loop, channel-driven
// connection model.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gpcp/command"
	"gpcp/dispatcher"
	"gpcp/frame"
	"gpcp/gpcperr"
	"gpcp/handler"
	"gpcp/middleware"
	"gpcp/types"
)

// Role is an endpoint's declared capability, negotiated once up front.
type Role string

const (
	RoleResponder       Role = "R"
	RoleRequester       Role = "A"
	RoleBoth            Role = "AR"
	RoleBothAlternative Role = "RA"
)

func validRole(r Role) bool {
	switch r {
	case RoleResponder, RoleRequester, RoleBoth, RoleBothAlternative:
		return true
	default:
		return false
	}
}

// State is the endpoint's lifecycle stage.
type State int

const (
	Init State = iota
	Negotiating
	Running
	Closing
	Closed
)

// CloseMode selects which half of the socket Close shuts down, matching
// the configuration surface's read/write/read+write close modes.
type CloseMode int

const (
	CloseRead CloseMode = iota
	CloseWrite
	CloseReadWrite
)

// roleConfig is the JSON negotiation message exchanged before either loop
// starts.
type roleConfig struct {
	Role Role `json:"role"`
}

// halfCloser is implemented by connections (e.g. *net.TCPConn) that support
// shutting down just one direction of the stream.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// requestTimeout bounds how long CommandRequest waits for a matching
// RESPONSE before giving up.
const requestTimeout = 5 * time.Second

// Endpoint owns one negotiated connection: its dispatcher, its main loop,
// and the correlation-id counter for outbound calls.
type Endpoint struct {
	sock net.Conn
	role Role

	handler      *handler.Instance
	chain        middleware.HandlerFunc
	requestChain middleware.HandlerFunc

	disp *dispatcher.Dispatcher

	correlationID atomic.Uint32

	// writeMu serializes every frame this endpoint writes on sock.
	// mainLoop's response writes run on the main-loop goroutine and
	// doRequest's request writes run on each concurrent CommandRequest
	// caller's goroutine; net.Conn.Write is not safe to call concurrently
	// from multiple goroutines without this.
	writeMu sync.Mutex

	mu    sync.Mutex
	state State

	mainLoopDone chan struct{}
}

// New negotiates a role with the peer over sock, then starts the dispatcher
// and main-loop goroutines, returning only once both are observably
// running. If negotiation rejects the pairing, the socket is closed and a
// Closed endpoint is returned alongside an error — no loops are spawned.
func New(sock net.Conn, role Role, h *handler.Instance, mw ...middleware.Middleware) (*Endpoint, error) {
	const op = "endpoint: negotiate"

	if !validRole(role) {
		return nil, gpcperr.New(gpcperr.ConfigurationError, op, fmt.Errorf("invalid local role %q", role))
	}

	e := &Endpoint{sock: sock, role: role, handler: h, state: Negotiating}

	local, err := json.Marshal(roleConfig{Role: role})
	if err != nil {
		return nil, gpcperr.New(gpcperr.ConfigurationError, op, err)
	}
	// Send and receive concurrently: both peers send first, which would
	// deadlock on an unbuffered connection such as net.Pipe.
	sent := make(chan error, 1)
	go func() { sent <- e.sendFrame(local, frame.Request) }()

	body, _, err := frame.ReceiveFrame(sock)
	if err != nil {
		sock.Close()
		<-sent
		e.state = Closed
		return e, err
	}
	if err := <-sent; err != nil {
		sock.Close()
		e.state = Closed
		return e, err
	}

	var remote roleConfig
	if err := json.Unmarshal(body, &remote); err != nil {
		sock.Close()
		e.state = Closed
		return e, gpcperr.New(gpcperr.ConfigurationError, op, err)
	}

	if !validRole(remote.Role) {
		sock.Close()
		e.state = Closed
		return e, gpcperr.New(gpcperr.ConfigurationError, op, fmt.Errorf("invalid remote role %q", remote.Role))
	}
	if (role == RoleResponder && remote.Role == RoleResponder) || (role == RoleRequester && remote.Role == RoleRequester) {
		sock.Close()
		e.state = Closed
		return e, gpcperr.New(gpcperr.ConfigurationError, op, fmt.Errorf("incompatible role pairing: local=%q remote=%q", role, remote.Role))
	}

	if h == nil {
		h = handler.NewInstance(nil)
	}
	h.Locked = role == RoleRequester
	e.handler = h
	e.chain = middleware.Chain(mw...)(e.invoke)
	e.requestChain = middleware.Chain(mw...)(e.doRequest)

	e.disp = dispatcher.New(sock)
	e.disp.Start()

	e.mainLoopDone = make(chan struct{})
	e.state = Running
	go e.mainLoop()

	return e, nil
}

// sendFrame writes one frame to sock, serialized against every other
// sender sharing this endpoint (mainLoop's responses, doRequest's
// requests, and negotiation).
func (e *Endpoint) sendFrame(body []byte, packetType frame.PacketType) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return frame.SendFrame(e.sock, body, packetType)
}

func (e *Endpoint) invoke(ctx context.Context, inv *middleware.Invocation) *middleware.Result {
	body, err := e.handler.Invoke(inv.Name, inv.Arguments)
	return &middleware.Result{Body: body, Err: err}
}

// mainLoop dequeues inbound REQUEST bodies, invokes the handler, and writes
// back RESPONSE frames, until the dispatcher's request stream closes.
func (e *Endpoint) mainLoop() {
	defer close(e.mainLoopDone)
	for body := range e.disp.Requests() {
		req, err := command.DecodeRequest(body)
		if err != nil {
			continue
		}

		result := e.chain(context.Background(), &middleware.Invocation{Name: req.Name, Arguments: req.Arguments})

		var responseBody []byte
		if result.Err != nil {
			responseBody, _ = json.Marshal(result.Err.Error())
		} else {
			responseBody = result.Body
		}

		out := append(frame.BinaryEncodeUint32(req.CorrelationID), responseBody...)
		e.sendFrame(out, frame.Response)
	}
	e.Close(CloseReadWrite)
}

// doRequest performs the actual network round trip for one outbound
// command invocation: send a REQUEST frame, block for the matching
// RESPONSE, and hand back its JSON-encoded value as the Result body. It is
// the innermost link of requestChain, so RetryMiddleware/TimeOutMiddleware/
// LoggingMiddleware wrap the requester side exactly the way they wrap the
// responder side's e.invoke.
func (e *Endpoint) doRequest(ctx context.Context, inv *middleware.Invocation) *middleware.Result {
	const op = "endpoint: command request"

	id := e.correlationID.Add(1)
	body, err := command.EncodeRequest(command.Request{CorrelationID: id, Name: inv.Name, Arguments: inv.Arguments})
	if err != nil {
		return &middleware.Result{Err: gpcperr.New(gpcperr.ConfigurationError, op, err)}
	}

	waiter := e.disp.Await(id)
	if err := e.sendFrame(body, frame.Request); err != nil {
		return &middleware.Result{Err: err}
	}

	select {
	case raw, ok := <-waiter:
		if !ok {
			return &middleware.Result{Err: gpcperr.New(gpcperr.PeerClosed, op, nil)}
		}
		resp, err := command.DecodeResponse(raw)
		if err != nil {
			return &middleware.Result{Err: err}
		}
		value, err := json.Marshal(resp.Value)
		if err != nil {
			return &middleware.Result{Err: err}
		}
		return &middleware.Result{Body: value}
	case <-time.After(requestTimeout):
		return &middleware.Result{Err: gpcperr.New(gpcperr.Timeout, op, nil)}
	case <-ctx.Done():
		return &middleware.Result{Err: ctx.Err()}
	}
}

// CommandRequest invokes a named remote command and blocks for its result,
// routed through requestChain so any configured middleware (retry, timeout,
// logging) applies to the round trip.
func (e *Endpoint) CommandRequest(ctx context.Context, name string, args []any, ret types.Descriptor) (any, error) {
	result := e.requestChain(ctx, &middleware.Invocation{Name: name, Arguments: args})
	if result.Err != nil {
		return nil, result.Err
	}

	var value any
	if len(result.Body) > 0 {
		if err := json.Unmarshal(result.Body, &value); err != nil {
			return nil, err
		}
	}
	if ret == nil {
		return value, nil
	}
	return ret.Deserialize(value)
}

// CommandDescriptorList is the decoded shape of requestCommands' response,
// reused by LoadInterface.
type CommandDescriptorList = []handler.CommandDescriptor

// Proxy is a typed stand-in for one remote command, installed by
// LoadInterface.
type Proxy struct {
	endpoint   *Endpoint
	name       string
	argTypes   []types.Descriptor
	returnType types.Descriptor
}

// Call invokes the remote command this proxy wraps with already-native Go
// argument values, serializing each per its declared descriptor.
func (p *Proxy) Call(ctx context.Context, args ...any) (any, error) {
	if len(args) != len(p.argTypes) {
		return nil, gpcperr.New(gpcperr.ConfigurationError, "endpoint: proxy call", fmt.Errorf("%s expects %d arguments, got %d", p.name, len(p.argTypes), len(args)))
	}
	serialized := make([]any, len(args))
	for i, a := range args {
		v, err := p.argTypes[i].Serialize(a)
		if err != nil {
			return nil, err
		}
		serialized[i] = v
	}
	return p.endpoint.CommandRequest(ctx, p.name, serialized, p.returnType)
}

// LoadInterface fetches (or accepts) a command descriptor list and builds a
// Proxy per command, keyed by command name.
func (e *Endpoint) LoadInterface(ctx context.Context, rawInterface CommandDescriptorList) (map[string]*Proxy, error) {
	if rawInterface == nil {
		value, err := e.CommandRequest(ctx, "requestCommands", []any{}, nil)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(encoded, &rawInterface); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*Proxy, len(rawInterface))
	for _, descriptor := range rawInterface {
		argTypes := make([]types.Descriptor, len(descriptor.Arguments))
		for i, a := range descriptor.Arguments {
			d, err := types.FromID(a.Type)
			if err != nil {
				return nil, err
			}
			argTypes[i] = d
		}
		returnType, err := types.FromID(descriptor.ReturnType)
		if err != nil {
			return nil, err
		}
		out[descriptor.Name] = &Proxy{endpoint: e, name: descriptor.Name, argTypes: argTypes, returnType: returnType}
	}
	return out, nil
}

// Close is idempotent. In every mode it stops the dispatcher and waits for
// its receive loop to exit; mode then selects which half of the socket to
// shut down (CloseRead and CloseWrite fall back to a full close when the
// connection cannot half-close). Close does not wait for the main loop to
// exit; Done reports that.
func (e *Endpoint) Close(mode CloseMode) error {
	e.mu.Lock()
	if e.state == Closed || e.state == Closing {
		e.mu.Unlock()
		return nil
	}
	e.state = Closing
	e.mu.Unlock()

	if e.disp != nil {
		e.disp.Stop()
		e.disp.Wait()
	}

	var err error
	switch mode {
	case CloseRead:
		if hc, ok := e.sock.(halfCloser); ok {
			err = hc.CloseRead()
		} else {
			err = e.sock.Close()
		}
	case CloseWrite:
		if hc, ok := e.sock.(halfCloser); ok {
			err = hc.CloseWrite()
		} else {
			err = e.sock.Close()
		}
	default:
		err = e.sock.Close()
	}

	e.mu.Lock()
	e.state = Closed
	e.mu.Unlock()
	return err
}

// State reports the endpoint's current lifecycle stage.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done returns a channel closed once the main loop has exited, either
// because the peer closed the connection or because Close was called.
func (e *Endpoint) Done() <-chan struct{} {
	return e.mainLoopDone
}

// Conn exposes the underlying connection, e.g. so a server can write a
// final PUSH frame during an orderly shutdown just before closing the
// endpoint.
func (e *Endpoint) Conn() net.Conn {
	return e.sock
}
