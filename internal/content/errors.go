package content

import "fmt"

// Failure reasons carried by FetchError.
const (
	ReasonFetch      = "fetch error"
	ReasonEmpty      = "empty content"
	ReasonTooShort   = "too short"
	ReasonTooFewWord = "too few words"
	ReasonErrorPage  = "error page detected"
)

// FetchError reports why a URL produced no usable text.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
