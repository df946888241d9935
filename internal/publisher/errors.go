package publisher

import "fmt"

// AuthError means the target cannot be published to without the user
// re-authorizing: no stored credential, or expired with no refresh token.
type AuthError struct {
	Platform string
	Reason   string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Platform, e.Reason)
}

// UpstreamError preserves a non-2xx platform response verbatim for
// diagnostics.
type UpstreamError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Platform, e.StatusCode, e.Body)
}

// TransportError wraps a network or parse failure that never produced a
// usable platform response.
type TransportError struct {
	Platform string
	Err      error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Platform, e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}
