package broadcast

import "fmt"

// ValidationError rejects a request before any network call is made.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}
