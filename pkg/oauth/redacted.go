package oauth

// RedactedSecret wraps a sensitive string (client secret, raw token) to
// prevent accidental logging.
//
// The type implements fmt.Stringer, fmt.GoStringer and the text/JSON
// marshalers to return "[REDACTED]" instead of the wrapped value, so a
// secret that ends up in a log line, error string or serialized struct
// never leaks. Call Value only at the point the secret is actually sent
// to the authorization server.
type RedactedSecret struct {
	value string
}

// NewRedactedSecret wraps the given value.
func NewRedactedSecret(value string) RedactedSecret {
	return RedactedSecret{value: value}
}

// Value returns the wrapped secret. Never log the result.
func (s RedactedSecret) Value() string {
	return s.value
}

// IsEmpty reports whether the wrapped value is empty.
func (s RedactedSecret) IsEmpty() bool {
	return s.value == ""
}

// String implements fmt.Stringer.
func (s RedactedSecret) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s RedactedSecret) GoString() string {
	return "oauth.RedactedSecret{[REDACTED]}"
}

// MarshalText implements encoding.TextMarshaler.
func (s RedactedSecret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// MarshalJSON implements json.Marshaler.
func (s RedactedSecret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
