package control

import "errors"

// ErrShutdown is returned by Wait when the plane shuts down while a task is
// blocked on it.
var ErrShutdown = errors.New("control: shutting down")
