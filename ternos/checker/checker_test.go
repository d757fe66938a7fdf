package checker

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"tern/ternos/kernel"
	"tern/ternos/tbf"
)

// queueDeferrer collects callbacks like the kernel loop does and runs
// them on demand, including the ones a callback schedules.
type queueDeferrer struct {
	fns []func()
}

func (d *queueDeferrer) Defer(fn func()) { d.fns = append(d.fns, fn) }

func (d *queueDeferrer) drain() {
	for len(d.fns) > 0 {
		fn := d.fns[0]
		d.fns = d.fns[1:]
		fn()
	}
}

type recordClient struct {
	done   bool
	res    CheckResult
	cred   tbf.Credential
	binary []byte
	err    error
}

func (c *recordClient) CheckDone(res CheckResult, cred tbf.Credential, binary []byte, err error) {
	c.done = true
	c.res = res
	c.cred = cred
	c.binary = binary
	c.err = err
}

func sha256Cred(binary []byte) tbf.Credential {
	digest := sha256.Sum256(binary)
	return tbf.Credential{Format: tbf.CredentialSHA256, Data: digest[:]}
}

func TestSha256AcceptsMatchingDigest(t *testing.T) {
	d := &queueDeferrer{}
	chk := NewSha256Checker(NewHostSha256(d))
	rec := &recordClient{}
	chk.SetClient(rec)

	binary := []byte("app image bytes")
	if err := chk.CheckCredentials(sha256Cred(binary), binary); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if rec.done {
		t.Fatalf("verdict arrived synchronously")
	}
	if err := chk.CheckCredentials(sha256Cred(binary), binary); err != ErrBusy {
		t.Fatalf("second check = %v, want ErrBusy", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckAccept {
		t.Fatalf("verdict = done=%v res=%v", rec.done, rec.res)
	}
	if rec.err != nil {
		t.Errorf("err = %v", rec.err)
	}
	if string(rec.binary) != string(binary) {
		t.Errorf("binary not passed through")
	}

	// The checker must be reusable after a completed check.
	rec.done = false
	if err := chk.CheckCredentials(sha256Cred(binary), binary); err != nil {
		t.Fatalf("reuse: %v", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckAccept {
		t.Errorf("reuse verdict = done=%v res=%v", rec.done, rec.res)
	}
}

func TestSha256RejectsBadDigest(t *testing.T) {
	d := &queueDeferrer{}
	chk := NewSha256Checker(NewHostSha256(d))
	rec := &recordClient{}
	chk.SetClient(rec)

	binary := []byte("app image bytes")
	cred := sha256Cred(binary)
	cred.Data[0] ^= 0xFF
	if err := chk.CheckCredentials(cred, binary); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckReject {
		t.Errorf("verdict = done=%v res=%v, want reject", rec.done, rec.res)
	}
}

func TestSha256PassesForeignFormats(t *testing.T) {
	d := &queueDeferrer{}
	chk := NewSha256Checker(NewHostSha256(d))
	rec := &recordClient{}
	chk.SetClient(rec)

	if !chk.RequireCredentials() {
		t.Errorf("RequireCredentials = false")
	}
	cred := tbf.Credential{Format: tbf.CredentialSHA512, Data: make([]byte, 64)}
	if err := chk.CheckCredentials(cred, []byte("x")); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if !rec.done || rec.res != CheckPass {
		t.Errorf("verdict = done=%v res=%v, want pass", rec.done, rec.res)
	}
}

func TestDigestShortID(t *testing.T) {
	binary := []byte("app image bytes")
	cred := sha256Cred(binary)
	chk := NewSha256Checker(NewHostSha256(&queueDeferrer{}))

	id := chk.ToShortID(Candidate{Name: "app", Credential: &cred})
	if !id.IsFixed() {
		t.Fatalf("digest ShortID not fixed")
	}
	want := binary32(cred.Data[:4]) & 0x7FFFFFFF
	if want == 0 {
		want = 1
	}
	wantID, _ := kernel.FixedShortID(want)
	if id != wantID {
		t.Errorf("ShortID = %v, want %v", id, wantID)
	}
	if got := chk.ToShortID(Candidate{Name: "app"}); got != kernel.ShortIDLocallyUnique {
		t.Errorf("credential-less ShortID = %v, want locally unique", got)
	}
}

func binary32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func TestNamesChecker(t *testing.T) {
	d := &queueDeferrer{}
	chk := NewNamesChecker(d)
	rec := &recordClient{}
	chk.SetClient(rec)

	if chk.RequireCredentials() {
		t.Errorf("RequireCredentials = true")
	}
	if err := chk.CheckCredentials(tbf.Credential{}, []byte("x")); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if err := chk.CheckCredentials(tbf.Credential{}, []byte("x")); err != ErrBusy {
		t.Fatalf("second check = %v, want ErrBusy", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckAccept {
		t.Errorf("verdict = done=%v res=%v, want accept", rec.done, rec.res)
	}

	p := liveProcess(t, "svc")
	if chk.DifferentIdentifier(Candidate{Name: "svc"}, p) {
		t.Errorf("same name treated as different identity")
	}
	if !chk.DifferentIdentifier(Candidate{Name: "other"}, p) {
		t.Errorf("different name treated as a collision")
	}

	a := chk.ToShortID(Candidate{Name: "svc"})
	b := chk.ToShortID(Candidate{Name: "svc"})
	if a != b || !a.IsFixed() {
		t.Errorf("name ShortID not deterministic: %v vs %v", a, b)
	}
	if got := chk.ToShortID(Candidate{Name: "other"}); got == a {
		t.Errorf("distinct names share a ShortID")
	}
	if got := chk.ToShortID(Candidate{}); got != kernel.ShortIDLocallyUnique {
		t.Errorf("empty name ShortID = %v, want locally unique", got)
	}
}

func liveProcess(t *testing.T, name string) *kernel.Process {
	t.Helper()
	b := tbf.Builder{Name: name, Enabled: true, MinimumRAM: 256, Binary: []byte{1, 2, 3, 4}}
	entry, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hdr, err := tbf.ParseHeader(entry)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	k := kernel.New(kernel.Config{})
	p, err := k.CreateProcess(kernel.ProcessConfig{
		Header:     hdr,
		Flash:      entry,
		FlashStart: 0x00040000,
		RAM:        make([]byte, 4096),
		RAMStart:   0x20000000,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	return p
}

func ecdsaSign(t *testing.T, key *ecdsa.PrivateKey, message []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

func TestSignatureCheckerVerdicts(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	d := &queueDeferrer{}
	chk := NewSignatureChecker(NewHostEcdsaP256(d, &key.PublicKey))
	rec := &recordClient{}
	chk.SetClient(rec)

	binary := []byte("signed app image")
	good := tbf.Credential{Format: tbf.CredentialEcdsaP256, Data: ecdsaSign(t, key, binary)}
	if err := chk.CheckCredentials(good, binary); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckAccept {
		t.Fatalf("valid signature verdict = done=%v res=%v", rec.done, rec.res)
	}

	bad := tbf.Credential{Format: tbf.CredentialEcdsaP256, Data: ecdsaSign(t, key, binary)}
	bad.Data[5] ^= 0xFF
	rec.done = false
	if err := chk.CheckCredentials(bad, binary); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckReject {
		t.Errorf("tampered signature verdict = done=%v res=%v", rec.done, rec.res)
	}

	rec.done = false
	if err := chk.CheckCredentials(sha256Cred(binary), binary); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if !rec.done || rec.res != CheckPass {
		t.Errorf("foreign format verdict = done=%v res=%v", rec.done, rec.res)
	}
}

func TestSignatureCheckerIdentity(t *testing.T) {
	chk := NewSignatureChecker(NewHostEcdsaP256(&queueDeferrer{}, nil))

	cred := tbf.Credential{Format: tbf.CredentialEcdsaP256, Data: make([]byte, 64)}
	cred.Data[0] = 0x12
	p := liveProcess(t, "svc")
	if !chk.DifferentIdentifier(Candidate{Credential: &cred}, p) {
		t.Errorf("credential vs credential-less process treated as a collision")
	}
	if !chk.ToShortID(Candidate{Credential: &cred}).IsFixed() {
		t.Errorf("signature ShortID not fixed")
	}
}

func TestAcceptAllChecker(t *testing.T) {
	d := &queueDeferrer{}
	chk := NewAcceptAllChecker(d)
	rec := &recordClient{}
	chk.SetClient(rec)

	if chk.RequireCredentials() {
		t.Errorf("RequireCredentials = true")
	}
	if err := chk.CheckCredentials(tbf.Credential{}, nil); err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	d.drain()
	if !rec.done || rec.res != CheckAccept {
		t.Errorf("verdict = done=%v res=%v, want accept", rec.done, rec.res)
	}
	if !chk.DifferentIdentifier(Candidate{Name: "any"}, liveProcess(t, "any")) {
		t.Errorf("accept-all reported a collision")
	}
	if got := chk.ToShortID(Candidate{Name: "any"}); got != kernel.ShortIDLocallyUnique {
		t.Errorf("ShortID = %v, want locally unique", got)
	}
}

func TestHostSha256EngineBusy(t *testing.T) {
	d := &queueDeferrer{}
	e := NewHostSha256(d)
	if err := e.AddData([]byte("a")); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if err := e.AddData([]byte("b")); err != ErrBusy {
		t.Fatalf("overlapping AddData = %v, want ErrBusy", err)
	}
	d.drain()
	if err := e.AddData([]byte("b")); err != nil {
		t.Errorf("AddData after drain: %v", err)
	}
}
