package watchwire

import (
	"errors"
	"io"
	"log/slog"
)

// Command is a request envelope: a name followed by arbitrary arguments.
// On the wire it is an array whose first element is the name.
type Command struct {
	Name string
	Args []Value
}

// NewCommand returns a [*Command] named name with the given arguments.
func NewCommand(name string, args ...Value) *Command {
	return &Command{Name: name, Args: args}
}

// ParseCommand extracts a command from a decoded request. v must be a non-empty
// array whose first element is a string.
func ParseCommand(v Value) (*Command, error) {
	if v.Kind() != KindArray {
		return nil, &ValidationError{Msg: "command must be an array"}
	}

	if v.Len() == 0 {
		return nil, &ValidationError{Msg: "command array is empty"}
	}

	name, ok := v.Index(0).AsString()
	if !ok {
		return nil, &ValidationError{Msg: "command name must be a string"}
	}

	return &Command{Name: name, Args: v.Items()[1:]}, nil
}

// Render returns the wire form of c.
func (c *Command) Render() Value {
	items := make([]Value, 0, len(c.Args)+1)
	items = append(items, String(c.Name))
	items = append(items, c.Args...)

	return array(items)
}

// Validate runs the validator registered for c in reg.
//
// Commands that are not registered, or registered without a validator, are
// accepted: the server may know commands this client does not. A rejection is
// returned as a [*ValidationError] naming the command.
func (c *Command) Validate(reg *CommandRegistry) error {
	if reg == nil {
		return nil
	}

	def, ok := reg.Lookup(c.Name)
	if !ok || def.Validator == nil {
		return nil
	}

	err := def.Validator(c)
	if err == nil {
		return nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Command == "" {
			ve.Command = c.Name
		}

		return ve
	}

	return &ValidationError{Command: c.Name, Msg: err.Error()}
}

// ErrorResponse builds the object a client prints when it rejects a command
// itself instead of sending it.
func ErrorResponse(err error) Value {
	return Object(
		M("error", String(err.Error())),
		M("version", String(Version)),
		M("cli_validated", Bool(true)),
	)
}

// RunConfig describes how [Command.Run] talks to the server and what it writes.
type RunConfig struct {
	// Persistent keeps relaying PDUs until the stream fails or ends, for
	// commands such as subscribe that produce an open ended series of responses.
	Persistent bool

	// ServerType and ServerCapabilities select the format the command is sent in.
	ServerType         PduType
	ServerCapabilities Capability

	// OutputType and OutputCapabilities select the format responses are written in.
	OutputType         PduType
	OutputCapabilities Capability
}

// Run sends c over stm and relays the response to w.
//
// The stream is put in blocking mode first. Without cfg.Persistent exactly one
// response PDU is relayed. With it, responses are relayed until the first
// error, which is returned; a server closing the connection ends the loop with
// io.EOF.
//
// Example:
//
//	cmd := watchwire.NewCommand("subscribe", watchwire.String("/src"), watchwire.String("sub1"))
//	err := cmd.Run(stm, os.Stdout, watchwire.RunConfig{
//		Persistent: true,
//		ServerType: watchwire.BSERv2,
//		ServerCapabilities: watchwire.DefaultCapabilities,
//		OutputType: watchwire.JSONPretty,
//	})
func (c *Command) Run(stm Stream, w io.Writer, cfg RunConfig) error {
	if err := stm.SetNonBlock(false); err != nil {
		return err
	}

	var in, out Buffer

	// The server answers indented requests with indented responses.
	in.ExpectPretty = cfg.ServerType == JSONPretty

	if err := in.EncodeTo(stm, cfg.ServerType, cfg.ServerCapabilities, c.Render()); err != nil {
		slog.Error("Failed to send command", "command", c.Name, "error", err)
		return err
	}

	in.Clear()

	for {
		if err := in.PassThru(stm, &out, w, cfg.OutputType, cfg.OutputCapabilities); err != nil {
			return err
		}

		if !cfg.Persistent {
			return nil
		}
	}
}
