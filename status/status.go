// Package status implements the error policy shared by the hardware driver
// bindings.  Every driver call returns a signed status code: zero is success,
// negative codes are hard errors, and positive codes are warnings.
package status

import (
	"fmt"
	"log"
)

// Code is a signed driver status
type Code int32

// OK is the success status
const OK Code = 0

// IsError returns true if the code is a hard error
func (c Code) IsError() bool { return c < 0 }

// IsWarning returns true if the code is a warning
func (c Code) IsWarning() bool { return c > 0 }

// Describer turns a status code into the driver's own text for it
type Describer interface {
	ErrorString(Code) string
}

// Error is a hard error reported by a driver call
type Error struct {
	// Call is the name of the driver procedure that failed
	Call string

	// Code is the status the driver returned
	Code Code

	// Msg is the driver's description of Code
	Msg string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s failed with error %d", e.Call, e.Code)
	}
	return fmt.Sprintf("%s failed with error %d: %s", e.Call, e.Code, e.Msg)
}

// Check applies the status policy to the result of one driver call.
// Errors are logged and returned as *Error.  Warnings are logged and
// swallowed.  A nil logger logs to the standard logger.
func Check(l *log.Logger, d Describer, call string, c Code) error {
	if c == OK {
		return nil
	}
	if l == nil {
		l = log.Default()
	}
	var msg string
	if d != nil {
		msg = d.ErrorString(c)
	}
	if c.IsWarning() {
		l.Printf("%s generated warning %d: %q", call, c, msg)
		return nil
	}
	l.Printf("%s failed with error %d: %q", call, c, msg)
	return &Error{Call: call, Code: c, Msg: msg}
}
