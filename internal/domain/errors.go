package domain

import (
	"errors"
	"fmt"
)

// Provider error taxonomy. A *ProviderError matches exactly one of these
// through errors.Is.
var (
	ErrAuth                = errors.New("provider authentication failed")
	ErrValidation          = errors.New("provider rejected request")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrDuplicate           = errors.New("resource already exists upstream")
	ErrNotFound            = errors.New("upstream resource not found")
)

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrApplicationExists   = errors.New("tenant already has a live application")
	ErrCompanyNotFound     = errors.New("company not found")
	ErrResourceNotFound    = errors.New("banking resource not found")
	ErrUnknownDocumentKind = errors.New("unknown document kind")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrProviderIDAssigned  = errors.New("provider application id already assigned")
	ErrNotApproved         = errors.New("company has no approved banking application")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTenantMismatch      = errors.New("resource belongs to another company")

	// ErrNoChange is returned from an update callback to skip the write.
	ErrNoChange = errors.New("no change")
)

// ProviderError is a normalized failure from the BaaS provider.
type ProviderError struct {
	Kind       error
	Op         string
	StatusCode int
	Code       string
	Message    string
	// Body is the raw provider response, kept for diagnostics only.
	Body []byte
	Err  error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, msg)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ProviderMessage extracts the provider's human-readable message from err.
func ProviderMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// TransitionError reports a disallowed status edge.
type TransitionError struct {
	From ApplicationStatus
	To   ApplicationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
