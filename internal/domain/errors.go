// errors.go defines the sentinel error taxonomy shared by every MirrorVault
// subsystem. Callers classify failures with errors.Is rather than string
// matching, so each layer can wrap these with fmt.Errorf("...: %w", err)
// context without breaking classification.
package domain

import "errors"

var (
	// ErrConfiguration indicates bad or missing credentials, buckets, or other
	// provider configuration. Fatal at provider initialization; never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectivity indicates a transient network or provider failure.
	// Retried with exponential backoff.
	ErrConnectivity = errors.New("connectivity error")

	// ErrNotFound indicates a missing file, item, or version. Returned as a
	// typed absence; several callers treat it as success (delete-of-missing).
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a bad metric or input value. Recoverable: the
	// operation is logged and skipped, never fatal to the process.
	ErrValidation = errors.New("validation error")

	// ErrDecryption indicates an authentication tag mismatch, malformed IV, or
	// failed key lookup. Deliberately uniform so the error does not reveal
	// whether a wrong password or corrupted ciphertext caused the failure.
	// Never retried, always surfaced.
	ErrDecryption = errors.New("decryption failed")

	// ErrInvalidOperation indicates a usage error such as deleting the current
	// version. Surfaced immediately to the caller.
	ErrInvalidOperation = errors.New("invalid operation")
)
