package transport

import "errors"

// ErrMessageGone reports that a message targeted for deletion no longer
// exists. By contract this is a success for cleanup purposes.
var ErrMessageGone = errors.New("message already gone")
