package vault

import "log/slog"

const redacted = "[REDACTED]"

// Secret holds decrypted credential material. It renders as [REDACTED]
// through fmt and slog; call Reveal only at the point of use.
type Secret string

// Reveal returns the plaintext.
func (s Secret) Reveal() string {
	return string(s)
}

// String implements fmt.Stringer.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer so %#v does not leak the value.
func (s Secret) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s == ""
}
