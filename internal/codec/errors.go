package codec

import "github.com/pkg/errors"

// Framing and compression errors are all fatal to the session that
// produced them; both halves close with a protocol-error reason.
var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameLength.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum length")
	// ErrCompression wraps any zlib failure encountered while inflating or
	// deflating a frame body.
	ErrCompression = errors.New("codec: compression error")
	// ErrBadUncompressedLength is returned when a decompressed frame body
	// does not match its declared uncompressed length.
	ErrBadUncompressedLength = errors.New("codec: decompressed size mismatch")
)

// MaxFrameLength bounds the total declared frame size to guard against a
// corrupt or hostile peer claiming an absurd length.
const MaxFrameLength = 2 * 1024 * 1024
