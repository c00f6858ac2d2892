package extract

import "errors"

// Terminal stage failures. Transient transport errors are retried inside each
// stage; once a stage returns one of these the attempt is over and the
// session failure counter advances.
var (
	// ErrEmptyOCR means the OCR service answered but produced no text after
	// all retries.
	ErrEmptyOCR = errors.New("extract: ocr returned no text")

	// ErrMalformedOutput means the language model did not return valid JSON
	// for the documented schema. Partial output is never used.
	ErrMalformedOutput = errors.New("extract: malformed structured output")

	// ErrBadImage means the transport payload could not be decoded as an
	// image.
	ErrBadImage = errors.New("extract: image payload could not be decoded")
)

// IsTerminal reports whether err is a terminal extraction failure (as opposed
// to a caller mistake such as a cancelled context).
func IsTerminal(err error) bool {
	return errors.Is(err, ErrEmptyOCR) || errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrBadImage)
}
