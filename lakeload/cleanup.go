package lakeload

import "io"

// closer returns a function that closes c, discarding the error.
// Use with defer for read-only handles whose close error carries nothing.
func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
