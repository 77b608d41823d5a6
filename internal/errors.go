package internal

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation on the live pipeline failed.
type ErrorKind int

const (
	KindInvalid ErrorKind = iota + 1
	KindDecode
	KindStore
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindDecode:
		return "decode"
	case KindStore:
		return "store"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// failure reading or writing items or image bytes
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IngestError is returned by Ingestor.Ingest. Nothing is persisted or
// published when it is returned.
type IngestError struct {
	Kind ErrorKind
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest (%s): %v", e.Kind, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind carried by err. Unclassified errors count as
// store failures.
func KindOf(err error) ErrorKind {
	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr.Kind
	}
	return KindStore
}

// Outcome is what the uploading guest is told after a submission.
type Outcome struct {
	OK      bool
	Kind    ErrorKind
	Message string
}

const uploadedMessage = "Photo uploaded :)"

// OutcomeFor maps an ingestion result to a user-facing message. Internal
// error text is only shown for input problems the guest can fix.
func OutcomeFor(err error) Outcome {
	if err == nil {
		return Outcome{OK: true, Message: uploadedMessage}
	}
	kind := KindOf(err)
	outcome := Outcome{Kind: kind}
	switch kind {
	case KindInvalid:
		var ingestErr *IngestError
		if errors.As(err, &ingestErr) && ingestErr.Err != nil {
			outcome.Message = ingestErr.Err.Error()
		} else {
			outcome.Message = "The upload was incomplete."
		}
	case KindDecode:
		outcome.Message = "That file does not look like a photo we can read."
	case KindRateLimited:
		outcome.Message = "Too many uploads at once. Please wait a moment and try again."
	default:
		outcome.Message = "Saving the photo failed. Please try again."
	}
	return outcome
}
