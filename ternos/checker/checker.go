// Package checker implements credential checking policies: pluggable
// accept/reject/pass decisions over the credential footers attached to an
// app binary, plus the identity rules (uniqueness and ShortID compression)
// that follow from an accepted credential.
package checker

import (
	"errors"

	"tern/ternos/kernel"
	"tern/ternos/tbf"
)

// ErrBusy means a check is already outstanding on this policy. At most
// one check is in flight per policy; once started it always eventually
// completes and cannot be cancelled.
var ErrBusy = errors.New("checker: check already in flight")

// CheckResult is a policy's verdict on one credential.
type CheckResult uint8

const (
	// CheckAccept approves the binary under this credential.
	CheckAccept CheckResult = iota
	// CheckPass abstains and defers to the next configured policy.
	CheckPass
	// CheckReject refuses to run the binary.
	CheckReject
)

func (r CheckResult) String() string {
	switch r {
	case CheckAccept:
		return "accept"
	case CheckPass:
		return "pass"
	case CheckReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Candidate is the identity-relevant view of a binary being loaded,
// before a Process exists for it.
type Candidate struct {
	Name       string
	Credential *tbf.Credential
}

// Client receives the completion of an asynchronous credential check.
// A non-nil err means the checking machinery itself failed, which is a
// fatal kernel condition, not a verdict.
type Client interface {
	CheckDone(res CheckResult, cred tbf.Credential, binary []byte, err error)
}

// Policy is one credential checking capability. CheckCredentials starts
// an asynchronous check whose verdict arrives on the configured Client;
// DifferentIdentifier and ToShortID define the identity the policy
// derives from an accepted credential.
type Policy interface {
	// RequireCredentials reports whether a binary with zero credentials
	// must be rejected before this policy even runs.
	RequireCredentials() bool
	// CheckCredentials starts a check of one credential against the
	// binary. It returns ErrBusy if a check is already outstanding.
	CheckCredentials(cred tbf.Credential, binary []byte) error
	// SetClient registers the completion sink.
	SetClient(c Client)
	// DifferentIdentifier reports whether the candidate and a running
	// process are distinguishable under this policy. Loading refuses a
	// candidate that collides with any live process.
	DifferentIdentifier(c Candidate, p *kernel.Process) bool
	// ToShortID deterministically compresses an accepted candidate into
	// its protection-domain identity.
	ToShortID(c Candidate) kernel.ShortID
}

// Deferrer queues a callback to run in kernel context. Policies use it to
// make even trivially-decidable checks complete asynchronously, so the
// loader sees one protocol everywhere.
type Deferrer interface {
	Defer(fn func())
}

// sameCredential reports whether two credentials are bytewise identical.
func sameCredential(a, b *tbf.Credential) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Format != b.Format || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
