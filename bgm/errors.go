package bgm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every error returned by Decode or Encode unwraps to one of these.
var (
	ErrBadMagic          = errors.New("bgm: bad signature")
	ErrInvalidIndex      = errors.New("bgm: invalid song index")
	ErrOffsetOutOfBounds = errors.New("bgm: offset out of bounds")
	ErrUnexpectedEOF     = errors.New("bgm: unexpected end of data")
	ErrUnknownCommand    = errors.New("bgm: unknown command")

	ErrIndexTooLong   = errors.New("bgm: song index too long")
	ErrCommandEncode  = errors.New("bgm: value cannot be encoded")
	ErrOffsetOverflow = errors.New("bgm: offset does not fit its field")
	ErrInvalidFlags   = errors.New("bgm: subsegment flags do not match its kind")
)

const (
	BadMagicError       = "%v: got %q, should be %q"
	UnknownCommandError = "%v 0x%02X at offset 0x%X"
	OffsetError         = "%v at offset 0x%X"
	EncodeErrorFormat   = "%v: %s: %s"
)

// DecodeError describes why a byte stream is not a valid BGM file.
type DecodeError struct {
	Err    error
	Offset int
	// Opcode is set for ErrUnknownCommand.
	Opcode byte
	// Got holds the bytes found where the signature was expected.
	Got []byte
}

func (e *DecodeError) Error() string {
	switch e.Err {
	case ErrBadMagic:
		return fmt.Sprintf(BadMagicError, e.Err, e.Got, Magic)
	case ErrUnknownCommand:
		return fmt.Sprintf(UnknownCommandError, e.Err, e.Opcode, e.Offset)
	}
	return fmt.Sprintf(OffsetError, e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError describes a Song value that cannot be written.
type EncodeError struct {
	Err error
	// Path locates the offending value, e.g. "segment 1 subsegment 0 track 3 command 7".
	Path   string
	Detail string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf(EncodeErrorFormat, e.Err, e.Path, e.Detail)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func decodeError(err error, offset int) *DecodeError {
	return &DecodeError{Err: err, Offset: offset}
}

func encodeErrorf(err error, path string, format string, args ...interface{}) *EncodeError {
	return &EncodeError{Err: err, Path: path, Detail: fmt.Sprintf(format, args...)}
}
