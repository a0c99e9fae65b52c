// Package handler implements the GPCP handler/command registry: binding
// named commands to typed Go functions with per-argument and return-value
// (de)serialization, invoked reflectively by binding names to
// reflect.Value functions and calling them with reflect.Value arguments.
//
// The source reflects over Python decorators and type annotations; Go has
// neither, so commands are registered explicitly through a Builder instead
// of being discovered by scanning struct methods.
package handler

import (
	"encoding/json"
	"go/token"
	"reflect"
	"regexp"

	"gpcp/gpcperr"
	"gpcp/types"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name) && !token.IsKeyword(name)
}

// ArgumentSpec names one command argument and declares the Descriptor used
// to (de)serialize it.
type ArgumentSpec struct {
	Name string
	Type types.Descriptor
}

// CommandEntry is one registered command: its declared signature plus the
// bound procedure, invoked via reflection.
type CommandEntry struct {
	Name        string
	Description string
	Arguments   []ArgumentSpec
	Return      types.Descriptor
	fn          reflect.Value
}

// UnknownCommandFunc handles a request whose name matched no registered
// command. Its return value is already the raw RESPONSE body; Invoke passes
// it through unchanged.
type UnknownCommandFunc func(name string, arguments []any) ([]byte, error)

// Registry is the immutable name -> CommandEntry mapping built once per
// handler class, plus the optional unknown-command fallback.
type Registry struct {
	commands map[string]*CommandEntry
	unknown  UnknownCommandFunc
}

// Builder accumulates CommandEntry registrations before Build freezes them
// into a Registry. Duplicate registrations are a HandlerLoadingError.
type Builder struct {
	registry *Registry
}

// NewBuilder starts a fresh registry under construction.
func NewBuilder() *Builder {
	return &Builder{registry: &Registry{commands: make(map[string]*CommandEntry)}}
}

// Register binds name to fn, a Go function accepting len(args) parameters
// (one per ArgumentSpec, in order) and returning either a single value or
// (value, error). Descriptors deserialize each incoming JSON argument into
// the Go value fn expects.
func (b *Builder) Register(name, description string, args []ArgumentSpec, ret types.Descriptor, fn any) error {
	const op = "handler: register command"

	if !validIdentifier(name) {
		return gpcperr.New(gpcperr.AnnotationError, op, nil)
	}
	if _, exists := b.registry.commands[name]; exists {
		return gpcperr.New(gpcperr.HandlerLoadingError, op, nil)
	}

	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return gpcperr.New(gpcperr.ConfigurationError, op, nil)
	}
	if fv.Type().NumIn() != len(args) {
		return gpcperr.New(gpcperr.ConfigurationError, op, nil)
	}
	if ret == nil {
		return gpcperr.New(gpcperr.ConfigurationError, op, nil)
	}
	for _, a := range args {
		if a.Type == nil {
			return gpcperr.New(gpcperr.ConfigurationError, op, nil)
		}
	}

	b.registry.commands[name] = &CommandEntry{
		Name:        name,
		Description: description,
		Arguments:   args,
		Return:      ret,
		fn:          fv,
	}
	return nil
}

// RegisterUnknown installs the at-most-one unknown-command fallback.
// Registering a second one is a HandlerLoadingError.
func (b *Builder) RegisterUnknown(fn UnknownCommandFunc) error {
	if b.registry.unknown != nil {
		return gpcperr.New(gpcperr.HandlerLoadingError, "handler: register unknown command", nil)
	}
	b.registry.unknown = fn
	return nil
}

// Build freezes the registry. The built-in requestCommands introspection
// command is not stored in the command map — it is handled directly by
// Instance.Invoke so its result always reflects exactly the finished
// registry, with no reflection/Descriptor round trip of its own.
// Registering a user command literally named "requestCommands" is still a
// HandlerLoadingError, same as any other duplicate.
func (b *Builder) Build() (*Registry, error) {
	if _, exists := b.registry.commands["requestCommands"]; exists {
		return nil, gpcperr.New(gpcperr.HandlerLoadingError, "handler: build registry", nil)
	}
	return b.registry, nil
}

// CommandDescriptor is the wire shape returned by requestCommands: enough
// for a remote peer to build a typed proxy via Endpoint.LoadInterface.
type CommandDescriptor struct {
	Name        string                       `json:"name"`
	Arguments   []CommandArgumentDescriptor `json:"arguments"`
	ReturnType  int                          `json:"return_type"`
	Description *string                      `json:"description"`
}

// CommandArgumentDescriptor names one argument's position and wire type id.
type CommandArgumentDescriptor struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

func (r *Registry) describeCommands() []CommandDescriptor {
	out := make([]CommandDescriptor, 0, len(r.commands))
	for _, entry := range r.commands {
		args := make([]CommandArgumentDescriptor, 0, len(entry.Arguments))
		for _, a := range entry.Arguments {
			id, _ := types.ToID(a.Type)
			args = append(args, CommandArgumentDescriptor{Name: a.Name, Type: id})
		}
		returnID, _ := types.ToID(entry.Return)
		var description *string
		if entry.Description != "" {
			d := entry.Description
			description = &d
		}
		out = append(out, CommandDescriptor{
			Name:        entry.Name,
			Arguments:   args,
			ReturnType:  returnID,
			Description: description,
		})
	}
	return out
}

// lockedResponse is returned verbatim (already JSON-encoded) when a locked
// handler instance receives an inbound command.
const lockedResponse = `"ENDPOINT NOT STARTED TO THIS SCOPE"`

// Instance is the per-connection handler state: a Registry reference plus
// the Locked flag set once during endpoint role negotiation.
type Instance struct {
	Registry *Registry
	Locked   bool

	// OnConnected/OnDisconnected are optional lifecycle hook fields. Nothing
	// in this module calls them: the server facade runs
	// server.Config.OnConnected/OnDisconnected instead.
	OnConnected    func()
	OnDisconnected func() []byte
}

// NewInstance creates a per-connection handler bound to registry.
func NewInstance(registry *Registry) *Instance {
	return &Instance{Registry: registry}
}

// Invoke runs the command named name with arguments, returning the raw
// RESPONSE body bytes.
func (i *Instance) Invoke(name string, arguments []any) ([]byte, error) {
	const op = "handler: invoke"

	if i.Locked {
		return []byte(lockedResponse), nil
	}

	if name == "requestCommands" {
		return json.Marshal(i.Registry.describeCommands())
	}

	entry, ok := i.Registry.commands[name]
	if !ok {
		if i.Registry.unknown == nil {
			return []byte{}, nil
		}
		return i.Registry.unknown(name, arguments)
	}

	if len(arguments) != len(entry.Arguments) {
		return nil, gpcperr.New(gpcperr.ConfigurationError, op, nil)
	}

	in := make([]reflect.Value, len(arguments))
	fnType := entry.fn.Type()
	for idx, raw := range arguments {
		value, err := entry.Arguments[idx].Type.Deserialize(raw)
		if err != nil {
			return nil, err
		}
		rv := reflect.ValueOf(value)
		paramType := fnType.In(idx)
		if !rv.IsValid() {
			rv = reflect.Zero(paramType)
		} else if rv.Type() != paramType && rv.Type().ConvertibleTo(paramType) {
			rv = rv.Convert(paramType)
		}
		in[idx] = rv
	}

	results := entry.fn.Call(in)

	var returned any
	if len(results) > 0 {
		returned = results[0].Interface()
	}
	if len(results) > 1 {
		if err, ok := results[1].Interface().(error); ok && err != nil {
			return nil, err
		}
	}

	serialized, err := entry.Return.Serialize(returned)
	if err != nil {
		return nil, err
	}
	return json.Marshal(serialized)
}
