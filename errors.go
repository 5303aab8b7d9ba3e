package superchunk

import "errors"

var (
	// ErrOutOfRange is returned when a chunk index is at or beyond the
	// number of chunks in the container.
	ErrOutOfRange = errors.New("chunk index out of range")

	// ErrBufferTooSmall is returned when a destination buffer cannot hold a
	// chunk's uncompressed payload. The destination is left untouched.
	ErrBufferTooSmall = errors.New("destination buffer too small for decompressed chunk")

	// ErrDeltaNotConfigured is returned by SetDeltaRef when the filter
	// pipeline does not start with FilterDelta.
	ErrDeltaNotConfigured = errors.New("delta filter not configured in slot 0")

	// ErrDeltaRefMissing is returned when appending a buffer to a packed
	// image whose filter pipeline requires a delta reference chunk which the
	// image does not carry. A reference cannot be installed retroactively
	// into a packed image.
	ErrDeltaRefMissing = errors.New("packed image carries no delta reference chunk")

	// ErrShortDecompress is returned when the codec produced fewer bytes
	// than the chunk prefix announced.
	ErrShortDecompress = errors.New("codec produced fewer bytes than the chunk announced")
)

// CorruptImageError reports a structurally invalid packed image.
type CorruptImageError struct {
	Reason string
}

func (e *CorruptImageError) Error() string {
	return "corrupt packed image: " + e.Reason
}
