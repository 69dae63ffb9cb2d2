package dispatch

import (
	"errors"
	"fmt"
)

// ErrFormatting is wrapped by every failure to build a reply from event data.
var ErrFormatting = errors.New("formatting failure")

// FormattingError reports bad file metadata in an upload.
type FormattingError struct {
	Index  int // file position in the upload, -1 for the upload itself
	Field  string
	Reason string
}

func (e *FormattingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s: %s", ErrFormatting, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: file %d: %s %s", ErrFormatting, e.Index, e.Field, e.Reason)
}

func (e *FormattingError) Unwrap() error { return ErrFormatting }
