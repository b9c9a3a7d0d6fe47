package fetch

import "fmt"

// FetchError wird zurückgegeben, wenn alle Versuche für eine URL erschöpft sind.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError beschreibt eine Antwort mit einem Backoff-Status (z.B. 429, 503).
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backoff status: %s", e.Status)
}
