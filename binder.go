package watchwire

import (
	"context"
)

// Binder configures each [*StreamServer] a [Server] creates, before it runs.
//
// The cancel function may be used to stop that connection.
type Binder interface {
	Bind(ctx context.Context, s *StreamServer, stop context.CancelCauseFunc)
}

// NewFuncBinder returns a [Binder] that runs binder.
//
//nolint:ireturn //Helper function
func NewFuncBinder(binder func(context.Context, *StreamServer, context.CancelCauseFunc)) Binder {
	return &funcBinder{funcBind: binder}
}

type funcBinder struct {
	funcBind func(context.Context, *StreamServer, context.CancelCauseFunc)
}

func (fb *funcBinder) Bind(ctx context.Context, s *StreamServer, stop context.CancelCauseFunc) {
	fb.funcBind(ctx, s, stop)
}
