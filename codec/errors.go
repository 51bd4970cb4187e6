package codec

import "errors"

var (
	// ErrCodecNotFound is returned when no codec is registered under a key
	ErrCodecNotFound = errors.New("codec not found")

	// ErrDuplicateCodec is returned when a name or UID is already taken by
	// another codec
	ErrDuplicateCodec = errors.New("codec already registered")

	// ErrInvalidParameter is returned when encoding parameters are invalid
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedFormat is returned when the sample layout is not supported
	ErrUnsupportedFormat = errors.New("unsupported format")
)
