// Georelay - Real-Time Collaborative Map Editing Relay
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/georelay/georelay

// Package validation validates untrusted client input at the relay's
// edge: handshake parameters and geographic coordinates. It wraps
// go-playground/validator v10 behind a thread-safe singleton so struct
// metadata is cached across requests.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// roomIDPattern bounds room identifiers to URL- and key-safe characters.
// Room IDs become cache keys and NATS metadata, so the character set
// stays deliberately narrow.
var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// HandshakeParams carries the /live query parameters before a
// connection is admitted.
type HandshakeParams struct {
	Room  string `validate:"required,max=128,roomid"`
	Token string `validate:"required,max=512"`
	Name  string `validate:"omitempty,max=64"`
}

// Coordinate is a [longitude, latitude] pair in WGS84 degrees.
type Coordinate struct {
	Longitude float64 `validate:"longitude"`
	Latitude  float64 `validate:"latitude"`
}

// FieldError describes a single failed field.
type FieldError struct {
	Field   string
	Tag     string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// InputError aggregates the failed fields of one validated struct.
type InputError struct {
	fields []FieldError
}

// Fields returns the individual field failures.
func (e *InputError) Fields() []FieldError {
	return e.fields
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if len(e.fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(e.fields))
	for i, f := range e.fields {
		messages[i] = f.Message
	}
	return strings.Join(messages, "; ")
}

// Validator returns the singleton instance with the relay's custom
// validators registered. Thread-safe.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Registration only fails for empty tags or nil funcs.
		_ = validate.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
			return roomIDPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// CheckHandshake validates the /live query parameters.
func CheckHandshake(params HandshakeParams) *InputError {
	return check(params)
}

// CheckCoordinate validates a [longitude, latitude] pair. Used for
// cursor positions, which arrive from clients and are rebroadcast
// verbatim.
func CheckCoordinate(lng, lat float64) *InputError {
	return check(Coordinate{Longitude: lng, Latitude: lat})
}

func check(s any) *InputError {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &InputError{fields: []FieldError{{
			Field:   "unknown",
			Tag:     "unknown",
			Message: err.Error(),
		}}}
	}

	fields := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: describe(fe),
		}
	}
	return &InputError{fields: fields}
}

// describe renders one field failure as a client-safe message. Values
// are never echoed back; tokens would otherwise leak into logs.
func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " exceeds maximum length " + fe.Param()
	case "roomid":
		return field + " contains invalid characters"
	case "latitude":
		return field + " is outside [-90, 90]"
	case "longitude":
		return field + " is outside [-180, 180]"
	default:
		return field + " failed " + fe.Tag() + " validation"
	}
}
