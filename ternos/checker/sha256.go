package checker

import (
	"encoding/binary"

	"tern/ternos/kernel"
	"tern/ternos/tbf"
)

// Sha256Engine is the injected hash capability: add-data then verify,
// both asynchronous, completions delivered to the registered client.
type Sha256Engine interface {
	SetClient(c Sha256Client)
	// AddData feeds the message. Completion arrives via AddDataDone.
	AddData(data []byte) error
	// Verify compares the accumulated digest against expected.
	// Completion arrives via VerifyDone.
	Verify(expected *[32]byte) error
	// ClearData resets the accumulator.
	ClearData()
}

// Sha256Client receives hash engine completions.
type Sha256Client interface {
	AddDataDone(err error, data []byte)
	VerifyDone(err error, matched bool, expected *[32]byte)
}

// Sha256Checker accepts a binary whose SHA256 credential matches the
// binary's actual digest. Credentials of other formats pass to the next
// policy. The ShortID is derived from the digest prefix. An engine that
// errors mid-check is broken trusted hardware: that is fatal, unlike a
// digest mismatch, which is an ordinary reject.
type Sha256Checker struct {
	engine Sha256Engine
	client Client

	busy     bool
	expected [32]byte
	cred     tbf.Credential
	binary   []byte
}

func NewSha256Checker(engine Sha256Engine) *Sha256Checker {
	c := &Sha256Checker{engine: engine}
	engine.SetClient(c)
	return c
}

func (s *Sha256Checker) RequireCredentials() bool { return true }

func (s *Sha256Checker) SetClient(c Client) { s.client = c }

func (s *Sha256Checker) CheckCredentials(cred tbf.Credential, binary []byte) error {
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.cred = cred
	s.binary = binary
	if cred.Format != tbf.CredentialSHA256 {
		// Not ours to judge; hand the decision to the next policy.
		s.busy = false
		if s.client != nil {
			s.client.CheckDone(CheckPass, cred, binary, nil)
		}
		return nil
	}
	copy(s.expected[:], cred.Data)
	s.engine.ClearData()
	if err := s.engine.AddData(binary); err != nil {
		s.busy = false
		return err
	}
	return nil
}

// AddDataDone implements Sha256Client.
func (s *Sha256Checker) AddDataDone(err error, data []byte) {
	if err != nil {
		kernel.Panicf("sha256 engine failed adding data: %v", err)
	}
	if err := s.engine.Verify(&s.expected); err != nil {
		kernel.Panicf("sha256 engine refused verify: %v", err)
	}
}

// VerifyDone implements Sha256Client.
func (s *Sha256Checker) VerifyDone(err error, matched bool, expected *[32]byte) {
	if err != nil {
		kernel.Panicf("sha256 engine failed verification: %v", err)
	}
	s.busy = false
	res := CheckReject
	if matched {
		res = CheckAccept
	}
	if s.client != nil {
		s.client.CheckDone(res, s.cred, s.binary, nil)
	}
}

func (s *Sha256Checker) DifferentIdentifier(c Candidate, p *kernel.Process) bool {
	return !sameCredential(c.Credential, p.Credential())
}

// ToShortID compresses the digest into its first 31 bits. The prefix is
// far too short to prove identity; it only has to discriminate the
// handful of processes one board runs.
func (s *Sha256Checker) ToShortID(c Candidate) kernel.ShortID {
	return shortIDFromPrefix(c)
}

func shortIDFromPrefix(c Candidate) kernel.ShortID {
	if c.Credential == nil || len(c.Credential.Data) < 4 {
		return kernel.ShortIDLocallyUnique
	}
	v := binary.BigEndian.Uint32(c.Credential.Data[:4]) & 0x7FFFFFFF
	if v == 0 {
		v = 1
	}
	id, _ := kernel.FixedShortID(v)
	return id
}
