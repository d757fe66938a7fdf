package checker

import (
	"tern/ternos/kernel"
	"tern/ternos/tbf"
)

// SignatureVerifier is the injected signature capability. The message is
// the app's integrity region; the signature comes from the credential.
type SignatureVerifier interface {
	SetClient(c SignatureClient)
	Verify(signature, message []byte) error
}

// SignatureClient receives signature engine completions.
type SignatureClient interface {
	VerificationDone(err error, valid bool, signature []byte)
}

// SignatureChecker accepts binaries carrying a valid ECDSA P-256
// credential. Other formats pass to the next policy. A failed signature
// is an ordinary reject; a failed engine is fatal.
type SignatureChecker struct {
	verifier SignatureVerifier
	client   Client

	busy   bool
	cred   tbf.Credential
	binary []byte
}

func NewSignatureChecker(v SignatureVerifier) *SignatureChecker {
	c := &SignatureChecker{verifier: v}
	v.SetClient(c)
	return c
}

func (s *SignatureChecker) RequireCredentials() bool { return true }

func (s *SignatureChecker) SetClient(c Client) { s.client = c }

func (s *SignatureChecker) CheckCredentials(cred tbf.Credential, binary []byte) error {
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.cred = cred
	s.binary = binary
	if cred.Format != tbf.CredentialEcdsaP256 {
		s.busy = false
		if s.client != nil {
			s.client.CheckDone(CheckPass, cred, binary, nil)
		}
		return nil
	}
	if err := s.verifier.Verify(cred.Data, binary); err != nil {
		s.busy = false
		return err
	}
	return nil
}

// VerificationDone implements SignatureClient.
func (s *SignatureChecker) VerificationDone(err error, valid bool, signature []byte) {
	if err != nil {
		kernel.Panicf("signature engine failed verification: %v", err)
	}
	s.busy = false
	res := CheckReject
	if valid {
		res = CheckAccept
	}
	if s.client != nil {
		s.client.CheckDone(res, s.cred, s.binary, nil)
	}
}

func (s *SignatureChecker) DifferentIdentifier(c Candidate, p *kernel.Process) bool {
	return !sameCredential(c.Credential, p.Credential())
}

func (s *SignatureChecker) ToShortID(c Candidate) kernel.ShortID {
	return shortIDFromPrefix(c)
}

// AcceptAllChecker approves everything and assigns no fixed identity.
// It is the test double for signature policies: boards use it to run
// unsigned development builds.
type AcceptAllChecker struct {
	deferrer Deferrer
	client   Client
	busy     bool
}

func NewAcceptAllChecker(d Deferrer) *AcceptAllChecker {
	return &AcceptAllChecker{deferrer: d}
}

func (a *AcceptAllChecker) RequireCredentials() bool { return false }

func (a *AcceptAllChecker) SetClient(c Client) { a.client = c }

func (a *AcceptAllChecker) CheckCredentials(cred tbf.Credential, binary []byte) error {
	if a.busy {
		return ErrBusy
	}
	a.busy = true
	a.deferrer.Defer(func() {
		a.busy = false
		if a.client != nil {
			a.client.CheckDone(CheckAccept, cred, binary, nil)
		}
	})
	return nil
}

func (a *AcceptAllChecker) DifferentIdentifier(Candidate, *kernel.Process) bool { return true }

func (a *AcceptAllChecker) ToShortID(Candidate) kernel.ShortID {
	return kernel.ShortIDLocallyUnique
}
