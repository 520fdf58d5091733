package errors

// ErrorCode identifies a failure kind. Codes are stable strings so they can
// be logged as error_code and matched across package boundaries.
type ErrorCode string

// Coder is implemented by anything that carries an ErrorCode.
type Coder interface {
	Code() ErrorCode
}

// Error is a coded error. Two Errors match under errors.Is when their codes
// are equal; message and data only describe the occurrence.
type Error interface {
	error
	Coder
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

// HasCode reports whether any error in err's tree carries code. Joined
// errors are searched branch by branch.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if c, ok := err.(Coder); ok && c.Code() == code {
		return true
	}

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if HasCode(e, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return HasCode(u.Unwrap(), code)
	}

	return false
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var c Coder
	if As(err, &c) {
		return c.Code()
	}

	return ErrInternal
}
