package remittance

import (
	"time"

	"github.com/google/uuid"
)

// IdentityKey identifies a peer's long-lived public key. It is opaque to the engine; the Wallet
// and IdentityLayer collaborators are responsible for giving it meaning.
type IdentityKey string

// ThreadID uniquely identifies one commercial exchange within the engine.
type ThreadID string

// OptionID names one settlement option offered on an invoice.
type OptionID string

// ModuleID names a registered RemittanceModule.
type ModuleID string

// UnixMillis is a point in time expressed as milliseconds since the Unix epoch.
type UnixMillis int64

func NowUnixMillis() UnixMillis {
	return UnixMillis(time.Now().UnixMilli())
}

func (t UnixMillis) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// IDGenerator produces new ThreadID and envelope ID values. It is injectable so tests can get
// deterministic identifiers (see spec section 9, "clocks and thread-id factories are
// injectable for test determinism").
type IDGenerator interface {
	NewThreadID() ThreadID
	NewEnvelopeID() string
}

type uuidIDGenerator struct{}

// NewUUIDGenerator returns the default IDGenerator, backed by random UUIDs.
func NewUUIDGenerator() IDGenerator {
	return uuidIDGenerator{}
}

func (uuidIDGenerator) NewThreadID() ThreadID {
	return ThreadID(uuid.New().String())
}

func (uuidIDGenerator) NewEnvelopeID() string {
	return uuid.New().String()
}

// Clock produces the current time. Injectable for test determinism.
type Clock interface {
	Now() UnixMillis
}

type systemClock struct{}

func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() UnixMillis {
	return NowUnixMillis()
}
