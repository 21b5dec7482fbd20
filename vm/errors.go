package vm

import (
	"github.com/joomcode/errorx"
)

// Host-level errors. These describe a broken assumption inside the engine,
// not a condition of the running program, and are kept apart from
// *BaseException values.
var (
	Errors = errorx.NewNamespace("vm")

	// ErrDowncast reports a payload of an unexpected Go type.
	ErrDowncast = Errors.NewType("downcast")
	// ErrNotCallable reports a call through an object with no call slot.
	ErrNotCallable = Errors.NewType("not_callable")
	// ErrProtocol reports that an object does not take part in a protocol;
	// callers may catch it and try the next protocol.
	ErrProtocol = Errors.NewType("protocol")
	// ErrFatal marks unrecoverable engine state, such as a malformed block
	// stack. It is raised with panic.
	ErrFatal = Errors.NewType("fatal")
)

// isHostError reports whether err is one of the recoverable host errors
// that the builtin call boundary converts to TypeError.
func isHostError(err error) bool {
	return errorx.IsOfType(err, ErrDowncast) ||
		errorx.IsOfType(err, ErrNotCallable) ||
		errorx.IsOfType(err, ErrProtocol)
}

// IsFatal reports whether err carries a fatal engine error.
func IsFatal(err error) bool {
	return errorx.IsOfType(err, ErrFatal)
}

func downcastError(want string, o *Object) error {
	return ErrDowncast.New("payload downcast failed: expected %s, got %s", want, o.typ.Name)
}

func protocolError(protocol string, o *Object) error {
	return ErrProtocol.New("internal protocol error: %s does not support %s", o.typ.Name, protocol)
}
