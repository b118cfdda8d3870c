package remittance

import (
	"github.com/pkg/errors"
)

// ErrKind classifies an error surfaced by the engine so callers can branch on category without
// string matching. See spec section 7.
type ErrKind uint8

const (
	KindUnspecified  = ErrKind(0)
	KindConfig       = ErrKind(1)
	KindPrecondition = ErrKind(2)
	KindExpired      = ErrKind(3)
	KindTimeout      = ErrKind(4)
	KindTransport    = ErrKind(5)
	KindProtocol     = ErrKind(6)
	KindTerminal     = ErrKind(7)
)

func (k ErrKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPrecondition:
		return "precondition"
	case KindExpired:
		return "expired"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindTerminal:
		return "terminal"
	default:
		return "unspecified"
	}
}

// Error wraps an underlying error with a Kind so it can be classified by callers. Failures the
// dispatcher hits while applying an envelope (such as an invalid transition) are recorded into
// Thread.LastError and are also returned from Manager.HandleIncoming.
type Error struct {
	Kind ErrKind
	Err  error
}

func NewError(kind ErrKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Errorf(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

func WrapError(kind ErrKind, err error, message string) *Error {
	return &Error{Kind: kind, Err: errors.Wrap(err, message)}
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorKind returns the Kind of err if it is (or wraps) a *Error, otherwise KindUnspecified.
func ErrorKind(err error) ErrKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = causer.Cause()
	}
	return KindUnspecified
}

var (
	// Configuration errors.
	ErrNoIdentityLayer   = errors.New("No Identity Layer Configured")
	ErrUnsupportedStateV = errors.New("Unsupported Persisted State Version")
	ErrNoInvoiceOptions  = errors.New("No Options On Invoice")
	ErrNoModuleForOption = errors.New("No Module For Option")
	ErrNoIdentityKey     = errors.New("Wallet Returned No Identity Key")

	// Precondition errors.
	ErrUnknownThread        = errors.New("Unknown Thread")
	ErrWrongRole            = errors.New("Wrong Role For Operation")
	ErrInvoiceAlreadySet    = errors.New("Thread Already Has Invoice")
	ErrSettlementAlreadySet = errors.New("Thread Already Has Settlement")
	ErrThreadErrored        = errors.New("Thread Is In Error State")
	ErrThreadIDReused       = errors.New("Thread Id Already Used")

	// Expiry.
	ErrInvoiceExpired = errors.New("Invoice Expired")

	// Timeout.
	ErrWaitTimeout = errors.New("Wait Timeout")

	// Protocol errors.
	ErrInvalidTransition      = errors.New("Invalid State Transition")
	ErrUnknownEnvelopeKind    = errors.New("Unknown Envelope Kind")
	ErrMalformedEnvelope      = errors.New("Malformed Envelope")
	ErrUnsupportedEnvelopeVer = errors.New("Unsupported Envelope Version")

	// Terminal.
	ErrThreadTerminal = errors.New("Thread In Terminal State")
)

// TransportError carries enough context about a CommsLayer failure to be actionable, per spec
// section 7 ("context-rich: endpoint, status, body preview").
type TransportError struct {
	Endpoint string
	Status   string
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return errors.Errorf("transport failure: endpoint=%s status=%s body=%.256s",
			e.Endpoint, e.Status, e.Body).Error()
	}
	return errors.Wrapf(e.Err, "transport failure: endpoint=%s status=%s body=%.256s",
		e.Endpoint, e.Status, e.Body).Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(endpoint, status, body string, err error) *Error {
	return NewError(KindTransport, &TransportError{
		Endpoint: endpoint,
		Status:   status,
		Body:     body,
		Err:      err,
	})
}
