package prediction

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason tags why a submission failed
type Reason string

const (
	ReasonNetwork   Reason = "network_error"
	ReasonServer    Reason = "server_error"
	ReasonMalformed Reason = "malformed_response"
)

// Failure is the terminal error of a submission. Its message tells apart an
// unreachable service, a service error and a response this client does not
// understand.
type Failure struct {
	Reason Reason
	// Status is the HTTP status for server errors, zero otherwise
	Status int
	// Detail is the service-provided error text, if any
	Detail string
	// Rejected is set when the request was not sent because the circuit was
	// open. Reason, Status and Detail then describe the last real outcome.
	Rejected bool
	Err      error
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonServer:
		msg := fmt.Sprintf("prediction service returned HTTP %d", f.Status)
		if f.Detail != "" {
			msg += ": " + f.Detail
		}
		if f.Rejected {
			msg += " (request not sent: " + errText(f.Err) + ")"
		}
		return msg
	case ReasonMalformed:
		return "prediction service response not understood: " + errText(f.Err)
	default:
		return "prediction service unreachable: " + errText(f.Err)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NetworkError wraps a transport failure
func NetworkError(err error) *Failure {
	return &Failure{Reason: ReasonNetwork, Err: err}
}

// ServerError records a non-success HTTP status
func ServerError(status int, detail string) *Failure {
	return &Failure{Reason: ReasonServer, Status: status, Detail: detail}
}

// Rejected reports a call refused without a request. It keeps the reason,
// status and detail of last, the most recent failure that counted against the
// service, and wraps err. With no last failure it reads as a 503.
func Rejected(last *Failure, err error) *Failure {
	f := &Failure{Reason: ReasonServer, Status: http.StatusServiceUnavailable}
	if last != nil {
		f.Reason = last.Reason
		f.Status = last.Status
		f.Detail = last.Detail
	}
	f.Rejected = true
	f.Err = err
	return f
}

// Malformed wraps a response that does not match the contract
func Malformed(err error) *Failure {
	return &Failure{Reason: ReasonMalformed, Err: err}
}

// AsFailure classifies err. Errors that are not already a *Failure are
// treated as transport failures.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return NetworkError(err)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
