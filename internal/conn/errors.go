package conn

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the connection is not in the
// authenticated state. The message was not sent and will not be queued.
var ErrNotConnected = errors.New("not connected")

// CloseError carries the close code of a finished socket. Transports
// translate their native close errors into this type so the manager can
// apply the terminal-range convention without knowing the transport.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
}

// closeCodeFrom extracts a close code from a read error. Zero means the
// socket died without a close frame; that is treated as transient.
func closeCodeFrom(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
