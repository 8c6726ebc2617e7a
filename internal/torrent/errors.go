package torrent

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by Create when the progress callback requested
// cancellation. No output is written in that case.
var ErrCancelled = errors.New("torrent creation cancelled")

// TorrentError is the domain error for torrent generation failures. It
// carries a stable message so callers never depend on the native error
// types of the underlying hashing or serialization libraries.
type TorrentError struct {
	Msg string
	Err error
}

func (e *TorrentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *TorrentError) Unwrap() error {
	return e.Err
}

func torrentError(err error, format string, args ...interface{}) *TorrentError {
	return &TorrentError{Msg: fmt.Sprintf(format, args...), Err: err}
}
