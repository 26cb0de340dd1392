package encryption

import "errors"

// CryptoError indicates that a primitive operation failed: wrong key, failed
// authentication tag, malformed ciphertext, unknown algorithm. All of these
// render the same message so callers cannot tell them apart.
type CryptoError struct {
	op    string
	cause error
}

func (e *CryptoError) Error() string {
	return "cryptographic operation failed"
}

// Op names the engine operation that failed. It is meant for debug logging only.
func (e *CryptoError) Op() string {
	return e.op
}

func newCryptoError(op string, cause error) error {
	return &CryptoError{op: op, cause: cause}
}

// IsCryptoError reports whether err is, or wraps, a CryptoError
func IsCryptoError(err error) bool {
	var target *CryptoError
	return errors.As(err, &target)
}
