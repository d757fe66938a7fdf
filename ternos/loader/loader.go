// Package loader scans a flash image for TBF entries, runs every app
// binary through the configured credential checking policies, and turns
// the accepted ones into kernel processes.
//
// Checking is asynchronous: the loader suspends after starting a check
// and resumes from the policy's completion callback. Driving the kernel
// step loop (which drains the deferred queue) therefore also drives
// loading to completion.
package loader

import (
	"errors"
	"fmt"

	"tern/hal"
	"tern/ternos/abi"
	"tern/ternos/checker"
	"tern/ternos/kernel"
	"tern/ternos/tbf"
)

// minProcessRAM is the smallest arena handed to any process, grant table
// included. Keeps tiny apps from getting arenas the MPU cannot express.
const minProcessRAM = 256

// Config wires a Loader to the machine it loads onto.
type Config struct {
	Kernel *kernel.Kernel
	Logger hal.Logger

	// Policies are consulted in order for every credential. The first
	// policy also supplies the identity for apps accepted without any
	// credential.
	Policies []checker.Policy

	// Flash is the image to scan, loaded at FlashStart.
	Flash      []byte
	FlashStart uint32

	// RAM is the pool process arenas are carved from, at RAMStart.
	RAM      []byte
	RAMStart uint32

	// OnDone, if set, is called once when the scan finishes. The error
	// is always nil today; malformed entries are skipped, not fatal.
	OnDone func(error)
}

// Loader is the flash scan state machine. It is single-threaded: all
// methods, including the check completion callback, run in kernel
// context.
type Loader struct {
	k        *kernel.Kernel
	log      hal.Logger
	policies []checker.Policy

	flash      []byte
	flashStart uint32
	ram        []byte
	ramStart   uint32
	ramOff     uint32

	cursor uint32

	// In-flight candidate. header is nil between entries.
	entry      []byte
	entryStart uint32
	header     *tbf.Header
	binary     []byte
	creds      []tbf.Credential
	credIdx    int
	policyIdx  int

	started bool
	done    bool
	stopped bool
	loaded  int
	onDone  func(error)
}

// New builds a Loader and registers it as the completion client of every
// policy. Start begins the scan.
func New(cfg Config) *Loader {
	l := &Loader{
		k:          cfg.Kernel,
		log:        cfg.Logger,
		policies:   cfg.Policies,
		flash:      cfg.Flash,
		flashStart: cfg.FlashStart,
		ram:        cfg.RAM,
		ramStart:   cfg.RAMStart,
		onDone:     cfg.OnDone,
	}
	for _, p := range l.policies {
		p.SetClient(l)
	}
	return l
}

// Start kicks off the scan. Calling Start again is a no-op.
func (l *Loader) Start() {
	if l.started {
		return
	}
	l.started = true
	l.run()
}

// Done reports whether the scan has finished.
func (l *Loader) Done() bool { return l.done }

// Loaded returns how many processes the scan has created so far.
func (l *Loader) Loaded() int { return l.loaded }

// run advances the state machine until it either finishes the flash or
// suspends waiting for an asynchronous check.
func (l *Loader) run() {
	for !l.done {
		if l.header == nil {
			if !l.nextCandidate() {
				l.finish()
				return
			}
		}
		if l.startChecks() {
			return // suspended; CheckDone resumes
		}
	}
}

// nextCandidate walks entries from the cursor until it finds the next
// checkable app, filling in the in-flight candidate fields. It returns
// false when the scan is over.
func (l *Loader) nextCandidate() bool {
	for !l.stopped && int(l.cursor) < len(l.flash) {
		rem := l.flash[l.cursor:]
		ini, err := tbf.ParseInitial(rem)
		if err != nil {
			var ih *tbf.InvalidHeaderError
			if errors.As(err, &ih) && ih.TotalSize != 0 && !l.overruns(ih.TotalSize) {
				l.logf("flash+0x%x: skipping invalid entry (%d bytes)", l.cursor, ih.TotalSize)
				l.cursor += ih.TotalSize
				continue
			}
			return false // end of list
		}
		if ini.TotalSize == 0 {
			// A zero-length entry would pin the cursor forever.
			l.logf("flash+0x%x: entry with total_size 0, stopping scan", l.cursor)
			return false
		}
		if l.overruns(ini.TotalSize) {
			l.logf("flash+0x%x: entry runs past end of flash, stopping scan", l.cursor)
			return false
		}

		entry := l.flash[l.cursor : l.cursor+ini.TotalSize]
		entryStart := l.flashStart + l.cursor
		entryOff := l.cursor
		l.cursor += ini.TotalSize

		hdr, err := tbf.ParseHeader(entry)
		if err != nil {
			l.logf("flash+0x%x: unparseable header, skipping: %v", entryOff, err)
			continue
		}
		if hdr.IsPadding() || !hdr.IsApp() {
			continue
		}
		if !hdr.Enabled() {
			l.logf("app %s is disabled, skipping", hdr.Name())
			continue
		}
		if kv, ok := hdr.KernelVersion(); ok {
			if kv.Major != abi.VersionMajor || kv.Minor > abi.VersionMinor {
				l.logf("app %s needs kernel ABI %d.%d, have %d.%d, skipping",
					hdr.Name(), kv.Major, kv.Minor, abi.VersionMajor, abi.VersionMinor)
				continue
			}
		}
		initOff, ok := hdr.InitOffset()
		if !ok {
			l.logf("app %s has no entry point, skipping", hdr.Name())
			continue
		}
		binaryEnd := hdr.BinaryEndOffset()
		if binaryEnd < uint32(hdr.HeaderSize) || binaryEnd > hdr.TotalSize {
			l.logf("app %s declares an out-of-range binary end, skipping", hdr.Name())
			continue
		}
		// The protected region sits between the header and the app's own
		// code. It must fit inside the declared binary, and the entry
		// point must land past it.
		if prot := hdr.ProtectedSize(); prot > binaryEnd-uint32(hdr.HeaderSize) {
			l.logf("app %s protects more flash than its binary holds, skipping", hdr.Name())
			continue
		} else if initOff < prot {
			l.logf("app %s entry point is inside the protected region, skipping", hdr.Name())
			continue
		}
		creds, err := tbf.ParseFooters(entry[binaryEnd:])
		if err != nil {
			l.logf("app %s has malformed footers, skipping: %v", hdr.Name(), err)
			continue
		}

		l.entry = entry
		l.entryStart = entryStart
		l.header = hdr
		l.binary = entry[:binaryEnd]
		l.creds = creds
		l.credIdx = 0
		l.policyIdx = 0
		return true
	}
	return false
}

// overruns reports whether an entry of the given size starting at the
// cursor would run past the end of flash.
func (l *Loader) overruns(totalSize uint32) bool {
	return uint64(l.cursor)+uint64(totalSize) > uint64(len(l.flash))
}

// startChecks runs credentials through policies until one suspends. It
// returns false once the candidate has been resolved synchronously.
func (l *Loader) startChecks() bool {
	for l.credIdx < len(l.creds) {
		for l.policyIdx < len(l.policies) {
			p := l.policies[l.policyIdx]
			err := p.CheckCredentials(l.creds[l.credIdx], l.binary)
			if err != nil {
				// A policy that cannot even start acts like a pass.
				l.logf("app %s: check did not start: %v", l.header.Name(), err)
				l.policyIdx++
				continue
			}
			return true
		}
		l.credIdx++
		l.policyIdx = 0
	}
	l.resolveWithoutAccept()
	return false
}

// CheckDone receives the verdict of the check started by startChecks.
// Implements checker.Client.
func (l *Loader) CheckDone(res checker.CheckResult, cred tbf.Credential, binary []byte, err error) {
	if err != nil {
		kernel.Panicf("credential check failed: %v", err)
	}
	if l.header == nil {
		kernel.Panicf("credential check completed with no candidate pending")
	}
	switch res {
	case checker.CheckAccept:
		l.accept(l.policies[l.policyIdx], &l.creds[l.credIdx])
		l.clearCandidate()
	case checker.CheckReject:
		l.logf("app %s rejected by policy %d", l.header.Name(), l.policyIdx)
		l.clearCandidate()
	case checker.CheckPass:
		l.policyIdx++
	}
	l.run()
}

// resolveWithoutAccept handles a candidate whose credentials (possibly
// zero of them) every policy passed on.
func (l *Loader) resolveWithoutAccept() {
	for _, p := range l.policies {
		if p.RequireCredentials() {
			l.logf("app %s has no approved credential, rejected", l.header.Name())
			l.clearCandidate()
			return
		}
	}
	var identity checker.Policy
	if len(l.policies) > 0 {
		identity = l.policies[0]
	}
	l.accept(identity, nil)
	l.clearCandidate()
}

// accept creates a process for the current candidate under the given
// identity policy and credential. Failures skip the candidate; a full
// process table ends the scan.
func (l *Loader) accept(policy checker.Policy, cred *tbf.Credential) {
	hdr := l.header
	cand := checker.Candidate{Name: hdr.Name(), Credential: cred}

	if policy != nil {
		collision := false
		l.k.ForEachProcess(func(p *kernel.Process) {
			if !policy.DifferentIdentifier(cand, p) {
				collision = true
			}
		})
		if collision {
			l.logf("app %s collides with a running process, skipping", hdr.Name())
			return
		}
	}

	shortID := kernel.ShortIDLocallyUnique
	if policy != nil {
		shortID = policy.ToShortID(cand)
	}

	if fa, ok := hdr.FixedAddresses(); ok && fa.Flash != tbf.FixedAddressUnset {
		if fa.Flash != l.entryStart+uint32(hdr.HeaderSize) {
			l.logf("app %s is fixed to flash 0x%x but sits at 0x%x, skipping",
				hdr.Name(), fa.Flash, l.entryStart+uint32(hdr.HeaderSize))
			return
		}
	}

	need := hdr.MinimumRAM() + kernel.GrantTableBytes
	if need < minProcessRAM {
		need = minProcessRAM
	}
	size := kernel.NextPowerOfTwo(need)
	start := kernel.AlignUp(l.ramStart+l.ramOff, size)
	if fa, ok := hdr.FixedAddresses(); ok && fa.RAM != tbf.FixedAddressUnset {
		if fa.RAM < start || fa.RAM%size != 0 {
			l.logf("app %s is fixed to RAM 0x%x which is unavailable, skipping", hdr.Name(), fa.RAM)
			return
		}
		start = fa.RAM
	}
	off := start - l.ramStart
	if uint64(off)+uint64(size) > uint64(len(l.ram)) {
		l.logf("app %s needs %d bytes of RAM, pool exhausted, skipping", hdr.Name(), size)
		return
	}

	p, err := l.k.CreateProcess(kernel.ProcessConfig{
		Header:     hdr,
		Flash:      l.entry,
		FlashStart: l.entryStart,
		RAM:        l.ram[off : off+size],
		RAMStart:   start,
		Credential: cred,
		ShortID:    shortID,
	})
	if err != nil {
		if errors.Is(err, kernel.ErrTableFull) {
			l.logf("process table full, stopping scan")
			l.stopped = true
			return
		}
		l.logf("app %s could not be created, skipping: %v", hdr.Name(), err)
		return
	}

	l.ramOff = off + size
	l.loaded++
	l.logf("loaded %s: flash 0x%x ram 0x%x+%d id %s", p.Name(), l.entryStart, start, size, shortID)
}

func (l *Loader) clearCandidate() {
	l.entry = nil
	l.entryStart = 0
	l.header = nil
	l.binary = nil
	l.creds = nil
	l.credIdx = 0
	l.policyIdx = 0
}

func (l *Loader) finish() {
	if l.done {
		return
	}
	l.done = true
	l.logf("flash scan complete: %d process(es) loaded", l.loaded)
	if l.onDone != nil {
		l.onDone(nil)
	}
}

func (l *Loader) logf(format string, args ...any) {
	if l.log == nil {
		return
	}
	l.log.WriteLineString(fmt.Sprintf(format, args...))
}
