package functions

import "fmt"

type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindStatus       ErrorKind = "status"
	KindDecode       ErrorKind = "decode"
	KindMissingField ErrorKind = "missing_field"
	KindAPI          ErrorKind = "api"
)

// Error is returned by every host function. The registry turns it into the
// result string the model sees.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
