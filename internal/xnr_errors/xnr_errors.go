package xnr_errors

// Every fatal condition of a build is one of the error types below. Internal
// packages return them and never print anything. The API layer turns them
// into log messages and exit codes.

import (
	"fmt"

	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

// A local specifier didn't match any file after every candidate was tried
type CouldNotResolveError struct {
	Specifier string
	Importer  string
	Location  *logger.MsgLocation
}

func (e *CouldNotResolveError) Error() string {
	return fmt.Sprintf("Could not resolve %q from %q", e.Specifier, e.Importer)
}

// The type stripper rejected the syntax of a file
type TransformError struct {
	Path     string
	Text     string
	Location *logger.MsgLocation
}

func (e *TransformError) Error() string {
	if e.Path == "" {
		return e.Text
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Text)
}

// A configuration or invariant failure, such as two source files that would
// be written to the same output path
type Error struct {
	Text     string
	Location *logger.MsgLocation
}

func (e *Error) Error() string {
	return e.Text
}

func Errorf(format string, args ...interface{}) *Error {
	return &Error{Text: fmt.Sprintf(format, args...)}
}

// A panic that was recovered at the API boundary
type InternalError struct {
	Value interface{}
	Stack string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("panic: %v (please report this as a bug)\n%s", e.Value, e.Stack)
}

// Converts any error returned by a build into a message for the log
func ToMsg(err error) logger.Msg {
	switch e := err.(type) {
	case *CouldNotResolveError:
		return logger.Msg{Kind: logger.Error, Text: e.Error(), Location: e.Location}
	case *TransformError:
		if e.Location != nil {
			return logger.Msg{Kind: logger.Error, Text: e.Text, Location: e.Location}
		}
		return logger.Msg{Kind: logger.Error, Text: e.Error()}
	case *Error:
		return logger.Msg{Kind: logger.Error, Text: e.Text, Location: e.Location}
	default:
		return logger.Msg{Kind: logger.Error, Text: err.Error()}
	}
}
