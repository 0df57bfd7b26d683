package config

const redacted = "***REDACTED***"

// SecretString holds a credential loaded from the environment: the database
// URL, the Stripe keys, the token signing key. It prints and marshals as a
// placeholder so a logged Config never leaks them.
type SecretString string

func (s SecretString) String() string {
	return redacted
}

// GoString covers %#v, which bypasses String.
func (s SecretString) GoString() string {
	return redacted
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the plaintext. Call it only where the value is handed to a
// client or driver.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
