package watchwire

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrCommandAlreadyExists is returned by [NewCommandRegistry] when two
// definitions share a name.
var ErrCommandAlreadyExists = errors.New("watchwire: command already exists in registry")

// Handler executes a command on the server side.
//
// The returned value is sent back to the client in the format of the request.
// When it is an object without a "version" member, one is added. A non-nil
// error is sent as {"error": err.Error(), "version": Version} instead.
//
// Handlers that produce more than one PDU, such as subscriptions, push the
// extra PDUs through the [*Responder]. It remains usable after Handle returns
// and until the connection closes.
type Handler interface {
	Handle(ctx context.Context, cmd *Command, r *Responder) (Value, error)
}

// HandlerFunc adapts an ordinary function to a [Handler].
//
// Example:
//
//	echo := watchwire.HandlerFunc(func(_ context.Context, cmd *watchwire.Command, _ *watchwire.Responder) (watchwire.Value, error) {
//		return watchwire.Object(watchwire.M("echo", watchwire.Array(cmd.Args...))), nil
//	})
type HandlerFunc func(ctx context.Context, cmd *Command, r *Responder) (Value, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd *Command, r *Responder) (Value, error) {
	return f(ctx, cmd, r)
}

// CommandDefinition registers a command name with an optional client side
// validator and an optional server side handler.
type CommandDefinition struct {
	Name      string
	Validator func(cmd *Command) error
	Handler   Handler
}

// CommandRegistry maps command names to their definitions. It is built once
// by [NewCommandRegistry] and is read-only afterwards, so it is safe for
// concurrent use without locking.
type CommandRegistry struct {
	defs  map[string]CommandDefinition
	names []string
}

// NewCommandRegistry builds a registry from defs.
//
// Example:
//
//	reg, err := watchwire.NewCommandRegistry(
//		watchwire.CommandDefinition{Name: "version", Handler: versionHandler},
//		watchwire.CommandDefinition{Name: "subscribe", Validator: validateSubscribe, Handler: subscribeHandler},
//	)
func NewCommandRegistry(defs ...CommandDefinition) (*CommandRegistry, error) {
	reg := &CommandRegistry{defs: make(map[string]CommandDefinition, len(defs))}

	for _, def := range defs {
		if def.Name == "" {
			return nil, errors.New("watchwire: command definition without a name")
		}

		if _, ok := reg.defs[def.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrCommandAlreadyExists, def.Name)
		}

		reg.defs[def.Name] = def
		reg.names = append(reg.names, def.Name)
	}

	slices.Sort(reg.names)

	return reg, nil
}

// Lookup returns the definition registered under name.
func (r *CommandRegistry) Lookup(name string) (CommandDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns every registered command name in sorted order.
func (r *CommandRegistry) Names() []string {
	return slices.Clone(r.names)
}
