package pdfdoc

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/drummonds/pdfpage/pdfengine"
)

// Error kinds. Match them with errors.Is.
var (
	ErrOpen              = errors.New("open error")
	ErrPageRange         = errors.New("page range error")
	ErrClosedDocument    = errors.New("closed document error")
	ErrUnsupportedFormat = errors.New("unsupported format error")
	ErrInvalidPPI        = errors.New("invalid PPI error")
	ErrInvalidOption     = errors.New("invalid option error")
	ErrInvalidSlice      = errors.New("invalid slice error")
	ErrOutputStream      = errors.New("output stream error")
	ErrOutputTooLarge    = errors.New("output too large error")
	ErrInvalidAnnotation = errors.New("invalid annotation error")
)

// Messages reported to callers.
const (
	msgOpen               = "Couldn't open file - %s."
	msgPageRange          = "Page number out of bounds."
	msgClosed             = "Document closed. You must delete this page"
	msgFormat             = "Unsupported compression method"
	msgPPI                = "'PPI' value must be greater then 0"
	msgQualityRange       = "'quality' not in 0 - 100 interval"
	msgQualityType        = "'quality' option value must be 0 - 100 interval integer"
	msgCompressionEmpty   = "'compression' option value could not be an empty string"
	msgCompressionType    = "'compression' option must be an instance of string"
	msgCompressionValue   = "Unsupported 'compression' option value"
	msgProgressiveType    = "'progressive' option value must be a boolean value"
	msgSliceRange         = "Slice values must be 0 - 1 interval numbers"
	msgSliceType          = "Slice must be an object: {x: Number, y: Number, w: Number, h: Number}"
	msgTooBig             = "Result image is too big"
	msgOutputStream       = "Could not open output stream"
	msgPathEmpty          = "'path' can't be empty"
	msgAnnotCorners       = "Wrong values for rectangle corners definition"
	msgAnnotQuadrilateral = "Invalid rectangle definition for annotation quadrilateral"
)

// Error is returned for every failure the document model detects itself.
// Errors coming out of the engine or the encoders are returned unchanged.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

// Is matches the error kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func closedError() *Error {
	return newError(ErrClosedDocument, msgClosed, nil)
}

// openError describes an engine open failure with the short reason strings
// PDF tools traditionally print.
func openError(err error) *Error {
	reason := "other error"
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, pdfengine.ErrNeedsPassword):
		reason = "encrypted"
	case errors.As(err, &pathErr):
		reason = fmt.Sprintf("fopen error. %v", pathErr.Err)
	case errors.Is(err, pdfengine.ErrEmptySource):
		reason = "file IO error"
	case err != nil:
		reason = "damaged"
	}
	return newError(ErrOpen, fmt.Sprintf(msgOpen, reason), err)
}
