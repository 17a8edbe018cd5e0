package credential

import "errors"

// Caller errors
var (
	// ErrInvalidParameter indicates a bad algorithm, size or missing field.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedAlgorithm indicates a key algorithm outside the supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")

	// ErrEmptyMaterial indicates no payload could be found or the payload is empty.
	ErrEmptyMaterial = errors.New("empty credential material")

	// ErrUnclassifiable indicates content carrying no recognized PEM marker.
	ErrUnclassifiable = errors.New("content is not a recognized PEM credential")

	// ErrExportUnsupported indicates the record cannot be rendered in the requested format.
	ErrExportUnsupported = errors.New("export format not supported for this record")
)

// Backend and primitive errors
var (
	// ErrGenerationFailed indicates the key generation primitive failed.
	ErrGenerationFailed = errors.New("key generation failed")

	// ErrNotFound indicates no record exists at the requested path.
	ErrNotFound = errors.New("credential record not found")

	// ErrStoreUnavailable indicates the secret store could not be reached or refused the write.
	ErrStoreUnavailable = errors.New("secret store unavailable")
)
