package sentinel

var _ error = Error("")

// Error is an error backed by a string constant. Two Error values compare
// equal when their text is equal, so errors.Is matches them through any
// number of %w wraps.
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}
