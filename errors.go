package monitordog

import (
	"github.com/joomcode/errorx"
)

// Errors is the error namespace of the package
var Errors = errorx.NewNamespace("monitordog")

var (
	// ErrValidation marks malformed event options
	ErrValidation = Errors.NewType("validation")

	// ErrUnsupported marks operations a sink cannot carry, such as raw event datagrams on a plain statsd sink
	ErrUnsupported = Errors.NewType("unsupported")

	// ErrTransport wraps failures of the underlying statistics transport
	ErrTransport = Errors.NewType("transport")
)
