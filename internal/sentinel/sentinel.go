package sentinel

var _ error = Error("")

// Error is a comparable error value. Two Errors are equal when their text is
// equal, so errors.Is matches them through any number of %w wraps.
type Error string

// Error returns the message.
func (e Error) Error() string {
	return string(e)
}
