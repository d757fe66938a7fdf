package checker

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/subtle"
	"hash"
	"math/big"
)

// Host-side engine implementations. The hash and signature math runs
// synchronously, but completions are still delivered through the deferred
// queue so the two-phase protocol looks identical to real asynchronous
// hardware.

// HostSha256 is a software SHA256 engine.
type HostSha256 struct {
	deferrer Deferrer
	client   Sha256Client
	h        hash.Hash
	busy     bool
}

func NewHostSha256(d Deferrer) *HostSha256 {
	return &HostSha256{deferrer: d, h: sha256.New()}
}

func (e *HostSha256) SetClient(c Sha256Client) { e.client = c }

func (e *HostSha256) ClearData() { e.h.Reset() }

func (e *HostSha256) AddData(data []byte) error {
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	e.h.Write(data)
	e.deferrer.Defer(func() {
		e.busy = false
		if e.client != nil {
			e.client.AddDataDone(nil, data)
		}
	})
	return nil
}

func (e *HostSha256) Verify(expected *[32]byte) error {
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	var sum [32]byte
	e.h.Sum(sum[:0])
	matched := subtle.ConstantTimeCompare(sum[:], expected[:]) == 1
	e.deferrer.Defer(func() {
		e.busy = false
		if e.client != nil {
			e.client.VerifyDone(nil, matched, expected)
		}
	})
	return nil
}

// HostEcdsaP256 verifies raw (r || s) P-256 signatures over the SHA256 of
// the message.
type HostEcdsaP256 struct {
	deferrer Deferrer
	client   SignatureClient
	pub      *ecdsa.PublicKey
	busy     bool
}

func NewHostEcdsaP256(d Deferrer, pub *ecdsa.PublicKey) *HostEcdsaP256 {
	return &HostEcdsaP256{deferrer: d, pub: pub}
}

func (e *HostEcdsaP256) SetClient(c SignatureClient) { e.client = c }

func (e *HostEcdsaP256) Verify(signature, message []byte) error {
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	valid := false
	if e.pub != nil && len(signature) == 64 {
		digest := sha256.Sum256(message)
		r := new(big.Int).SetBytes(signature[:32])
		s := new(big.Int).SetBytes(signature[32:])
		valid = ecdsa.Verify(e.pub, digest[:], r, s)
	}
	e.deferrer.Defer(func() {
		e.busy = false
		if e.client != nil {
			e.client.VerificationDone(nil, valid, signature)
		}
	})
	return nil
}
