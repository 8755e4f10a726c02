package etims

import (
	"errors"
	"fmt"
)

// ErrorKind buckets integration failures by where they must be fixed:
// Configuration in the local setup, Transport at the remote API, Auth in
// the credential/token state, Reconciliation in the local-vs-remote data.
type ErrorKind string

const (
	ErrorKindConfiguration  ErrorKind = "configuration"
	ErrorKindTransport      ErrorKind = "transport"
	ErrorKindAuth           ErrorKind = "auth"
	ErrorKindReconciliation ErrorKind = "reconciliation"
)

type IntegrationError struct {
	Kind         ErrorKind
	Op           string
	Doctype      string
	DocumentName string
	Message      string
	Err          error
}

func (e *IntegrationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.DocumentName != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Op, e.DocumentName, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

func newConfigurationError(op, doctype, documentName, message string) *IntegrationError {
	return &IntegrationError{Kind: ErrorKindConfiguration, Op: op, Doctype: doctype, DocumentName: documentName, Message: message}
}

func newTransportError(op string, err error) *IntegrationError {
	return &IntegrationError{Kind: ErrorKindTransport, Op: op, Err: err}
}

func newAuthError(op string, err error) *IntegrationError {
	return &IntegrationError{Kind: ErrorKindAuth, Op: op, Err: err}
}

func newReconciliationError(op, documentName, message string) *IntegrationError {
	return &IntegrationError{Kind: ErrorKindReconciliation, Op: op, DocumentName: documentName, Message: message}
}

// KindOf extracts the bucket from any error in a chain, defaulting to
// Transport for plain errors.
func KindOf(err error) ErrorKind {
	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ErrorKindTransport
}
