package services

import (
	"errors"
	"fmt"
)

var (
	// ErrPaywall kennzeichnet HTML statt eines Dokuments beim Download.
	ErrPaywall = errors.New("paywall or html instead of document")

	// ErrMissingIngestItemID tritt auf, wenn der Upsert des Items keine ID geliefert hat.
	ErrMissingIngestItemID = errors.New("missing ingest item id after upsert")

	// ErrTerminalStatus verhindert weitere Stufen nach stored, skipped_paywall oder failed.
	ErrTerminalStatus = errors.New("item already in terminal status")

	// ErrRunInProgress wird vom Runner gemeldet, wenn bereits ein Lauf aktiv ist.
	ErrRunInProgress = errors.New("ingestion run already in progress")
)

// PaywallError trägt URL und Content-Type der abgelehnten Antwort.
type PaywallError struct {
	URL         string
	ContentType string
}

func (e *PaywallError) Error() string {
	return fmt.Sprintf("got %s instead of pdf for %s", e.ContentType, e.URL)
}

func (e *PaywallError) Unwrap() error { return ErrPaywall }
