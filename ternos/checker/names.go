package checker

import (
	"hash/fnv"

	"tern/ternos/kernel"
	"tern/ternos/tbf"
)

// NamesChecker enforces name uniqueness: every credential is accepted,
// but two processes with the same package name are considered the same
// identity, so the second one is refused at load time. The ShortID is a
// non-secure hash of the name.
type NamesChecker struct {
	deferrer Deferrer
	client   Client
	busy     bool
}

func NewNamesChecker(d Deferrer) *NamesChecker {
	return &NamesChecker{deferrer: d}
}

func (n *NamesChecker) RequireCredentials() bool { return false }

func (n *NamesChecker) SetClient(c Client) { n.client = c }

func (n *NamesChecker) CheckCredentials(cred tbf.Credential, binary []byte) error {
	if n.busy {
		return ErrBusy
	}
	n.busy = true
	n.deferrer.Defer(func() {
		n.busy = false
		if n.client != nil {
			n.client.CheckDone(CheckAccept, cred, binary, nil)
		}
	})
	return nil
}

func (n *NamesChecker) DifferentIdentifier(c Candidate, p *kernel.Process) bool {
	return c.Name != p.Name()
}

func (n *NamesChecker) ToShortID(c Candidate) kernel.ShortID {
	if c.Name == "" {
		return kernel.ShortIDLocallyUnique
	}
	h := fnv.New32a()
	h.Write([]byte(c.Name))
	v := h.Sum32() & 0x7FFFFFFF
	if v == 0 {
		v = 1
	}
	id, _ := kernel.FixedShortID(v)
	return id
}
