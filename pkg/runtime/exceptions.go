package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/pyaot/pkg/types"
)

// ErrFellOff is returned when execution runs past the end of a method.
var ErrFellOff = errors.New("runtime: control fell off the end of a method")

// Exception is a raised source-language exception. It is a Value, so
// handlers can bind it, and an error, so it propagates through Go returns.
type Exception struct {
	Class *types.Type
	Args  []Value
	Cause *Exception

	// Traceback lists unit.method@pc for each frame the exception left,
	// innermost first.
	Traceback []string
}

func (e *Exception) Type() *types.Type { return e.Class }

func (e *Exception) Error() string {
	if msg := e.Message(); msg != "" {
		return e.Class.Name + ": " + msg
	}
	return e.Class.Name
}

// Message is str() of the exception: its single argument, or the tuple of
// its arguments.
func (e *Exception) Message() string {
	switch len(e.Args) {
	case 0:
		return ""
	case 1:
		if e.Class == types.KeyError {
			return Repr(e.Args[0])
		}
		return ToStr(e.Args[0])
	}
	return Repr(&Tuple{Items: e.Args})
}

// Value returns the first argument, which StopIteration uses to carry a
// generator's return value.
func (e *Exception) Value() Value {
	if len(e.Args) == 0 {
		return None
	}
	return e.Args[0]
}

// NewException creates an exception of class t.
func NewException(t *types.Type, args ...Value) *Exception {
	return &Exception{Class: t, Args: args}
}

// Errorf creates an exception of class t with a formatted message.
func Errorf(t *types.Type, format string, a ...any) *Exception {
	return NewException(t, Str(fmt.Sprintf(format, a...)))
}

// IsInstance reports whether err is an exception of class t or a subclass.
func IsInstance(err error, t *types.Type) bool {
	var exc *Exception
	return errors.As(err, &exc) && types.IsSubtype(exc.Class, t)
}

// ExceptionValue converts err into the value a handler receives. Go errors
// that are not exceptions surface as RuntimeError.
func ExceptionValue(err error) Value {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	return Errorf(types.RuntimeError, "%v", err)
}

// Raise builds the error a THROW produces. exc may be an exception or an
// exception class; cause is Null when absent.
func Raise(exc, cause Value) error {
	e, err := instantiate(exc)
	if err != nil {
		return err
	}
	if cause != Null && cause != None {
		c, err := instantiate(cause)
		if err != nil {
			return err
		}
		e.Cause = c
	}
	return e
}

func instantiate(v Value) (*Exception, error) {
	switch v := v.(type) {
	case *Exception:
		return v, nil
	case *TypeObject:
		if types.IsSubtype(v.T, types.BaseException) {
			return NewException(v.T), nil
		}
	}
	return nil, Errorf(types.TypeError, "exceptions must derive from BaseException")
}

// ExcMatch tests an exception or exception class against a class or a
// tuple of classes.
func ExcMatch(exc, pattern Value) (Value, error) {
	var t *types.Type
	switch e := exc.(type) {
	case *TypeObject:
		t = e.T
	case *Exception:
		t = e.Class
	default:
		return Bool(false), nil
	}
	ok, err := matchClass(t, pattern)
	return Bool(ok), err
}

func matchClass(t *types.Type, pattern Value) (bool, error) {
	switch p := pattern.(type) {
	case *TypeObject:
		if !types.IsSubtype(p.T, types.BaseException) {
			break
		}
		return types.IsSubtype(t, p.T), nil
	case *Tuple:
		for _, it := range p.Items {
			ok, err := matchClass(t, it)
			if ok || err != nil {
				return ok, err
			}
		}
		return false, nil
	}
	return false, Errorf(types.TypeError, "catching classes that do not inherit from BaseException is not allowed")
}

// Traceback is the value handlers see for an exception's traceback.
type Traceback struct {
	Frames []string
}

func (*Traceback) Type() *types.Type { return types.Traceback }

func (t *Traceback) String() string {
	return strings.Join(t.Frames, " <- ")
}
