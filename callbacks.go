package watchwire

import (
	"context"
	"log/slog"
)

// DefaultOnHandlerPanic logs a recovered handler panic with slog. It is
// installed on every [StreamServer] created by [NewStreamServer].
var DefaultOnHandlerPanic = func(ctx context.Context, cmd *Command, rec any) {
	slog.ErrorContext(ctx, "Panic recovered in command handler", "command", cmd.Name, "args", cmd.Render().String(), "panic_value", rec)
}

// Callbacks are hooks a [StreamServer] runs on notable events. They are
// usually installed from a [Binder] before the server runs.
//
// Example:
//
//	server.Binder = watchwire.NewFuncBinder(func(ctx context.Context, s *watchwire.StreamServer, _ context.CancelCauseFunc) {
//		s.Callbacks.OnExit = func(ctx context.Context, err error) {
//			slog.InfoContext(ctx, "Client disconnected", "error", err)
//		}
//	})
type Callbacks struct {
	// OnExit runs when [StreamServer.Run] is about to return. err is io.EOF
	// when the client hung up cleanly.
	OnExit func(ctx context.Context, err error)

	// OnDecodingError runs when a request PDU could not be read or parsed. The
	// connection is closed afterwards.
	OnDecodingError func(ctx context.Context, err error)

	// OnEncodingError runs when a response could not be written.
	OnEncodingError func(ctx context.Context, v Value, err error)

	// OnHandlerPanic runs when a [Handler] panics. The client receives an error
	// response and the connection stays open.
	OnHandlerPanic func(ctx context.Context, cmd *Command, rec any)
}

func (c *Callbacks) runOnExit(ctx context.Context, e error) {
	if c.OnExit != nil {
		c.OnExit(ctx, e)
	}
}

func (c *Callbacks) runOnDecodingError(ctx context.Context, e error) {
	if c.OnDecodingError != nil {
		c.OnDecodingError(ctx, e)
	}
}

func (c *Callbacks) runOnEncodingError(ctx context.Context, v Value, e error) {
	if c.OnEncodingError != nil {
		c.OnEncodingError(ctx, v, e)
	}
}

func (c *Callbacks) runOnHandlerPanic(ctx context.Context, cmd *Command, rec any) {
	if c.OnHandlerPanic != nil {
		c.OnHandlerPanic(ctx, cmd, rec)
	}
}
