package serialization

import "fmt"

// MalformedDateError is returned when a date string does not match DateLayout.
type MalformedDateError struct {
	Value string
	Err   error
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date %q: %v", e.Value, e.Err)
}

func (e *MalformedDateError) Unwrap() error { return e.Err }

// MissingFieldError is returned when a typed payload lacks a required field,
// or carries it with the wrong wire type.
type MissingFieldError struct {
	Tag   string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s payload: missing or invalid field %q", e.Tag, e.Field)
}

// UnknownTypeTagError is returned for a discriminator value outside the known tags.
type UnknownTypeTagError struct {
	Tag any
}

func (e *UnknownTypeTagError) Error() string {
	return fmt.Sprintf("unknown type tag %v", e.Tag)
}

// UnsupportedValueError is returned by Encode for Go values with no wire form.
type UnsupportedValueError struct {
	Value any
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("cannot encode value of type %T", e.Value)
}

// PathError locates a decode failure inside a nested value.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }
