// Package app wires the machine together: HAL, kernel, credential
// policies, the flash loader, and the on-screen console.
package app

import (
	"tern/hal"
	"tern/ternos/checker"
	"tern/ternos/console"
	"tern/ternos/kernel"
	"tern/ternos/loader"
)

const (
	// appFlashBase is where the app region of the flash image begins.
	// Everything below it belongs to the kernel image.
	appFlashBase = 0x00040000

	// appRAMBase and appRAMSize bound the pool process arenas come from.
	appRAMBase = 0x20000000
	appRAMSize = 256 << 10

	// stepsPerTick is how many scheduling passes each HAL tick gets.
	stepsPerTick = 32
)

// Config selects boot policy.
type Config struct {
	// AllowUnsigned loads apps without credential footers, identified
	// by package name only.
	AllowUnsigned bool
}

type system struct {
	h    hal.HAL
	k    *kernel.Kernel
	ld   *loader.Loader
	cons *console.Console

	led   hal.LED
	ledOn bool
}

// New initializes the OS with default config and returns the per-tick
// step function.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, Config{})
}

// Run starts the OS and blocks forever (TinyGo/native entrypoint).
func Run(h hal.HAL) {
	RunWithConfig(h, Config{})
}

func NewWithConfig(h hal.HAL, cfg Config) func() error {
	s := newSystem(h, cfg)
	return s.step
}

func RunWithConfig(h hal.HAL, cfg Config) {
	step := NewWithConfig(h, cfg)
	ticks := h.Time().Ticks()
	for {
		if ticks != nil {
			<-ticks
		}
		if err := step(); err != nil {
			kernel.Panicf("step: %v", err)
		}
	}
}

func newSystem(h hal.HAL, cfg Config) *system {
	bootDiagStart(h)
	bootScreen(h, "starting kernel")
	installPanicHandler(h)

	k := kernel.New(kernel.Config{
		Boundary: yieldBoundary{},
		Logger:   h.Logger(),
	})
	kernel.NewIPC(k)
	kernel.NewSerialDriver(k, h.Serial())
	cons := console.New(k, h.Display(), h.Input())

	var policies []checker.Policy
	if cfg.AllowUnsigned {
		policies = []checker.Policy{checker.NewNamesChecker(k)}
	} else {
		policies = []checker.Policy{
			checker.NewSha256Checker(checker.NewHostSha256(k)),
			checker.NewNamesChecker(k),
		}
	}

	s := &system{
		h:    h,
		k:    k,
		cons: cons,
		led:  h.LED(),
	}
	// The LED doubles as an activity light: on from boot until the
	// kernel first runs out of work, then on whenever work is pending.
	if s.led != nil {
		s.led.High()
		s.ledOn = true
	}
	s.ld = loader.New(loader.Config{
		Kernel:     k,
		Logger:     cons,
		Policies:   policies,
		Flash:      readAppFlash(h),
		FlashStart: appFlashBase,
		RAM:        make([]byte, appRAMSize),
		RAMStart:   appRAMBase,
	})
	s.ld.Start()
	return s
}

// step runs one tick: a bounded burst of kernel scheduling, then a
// console refresh.
func (s *system) step() error {
	for i := 0; i < stepsPerTick; i++ {
		if !s.k.Step() {
			break
		}
	}
	s.setLED(s.k.WorkCount() > 0)
	s.cons.Tick()
	return nil
}

// setLED drives the activity light, touching the pin only on change.
func (s *system) setLED(on bool) {
	if s.led == nil || on == s.ledOn {
		return
	}
	s.ledOn = on
	if on {
		s.led.High()
	} else {
		s.led.Low()
	}
}

// readAppFlash copies the app region of flash into a byte slice the
// loader and processes index into. TBF parsing never touches the device
// after boot.
func readAppFlash(h hal.HAL) []byte {
	f := h.Flash()
	if f == nil {
		return nil
	}
	size := f.SizeBytes()
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if l := h.Logger(); l != nil {
			l.WriteLineString("boot: flash unreadable: " + err.Error())
		}
		return nil
	}
	return buf
}

// yieldBoundary stands in for the architecture switch on builds without
// a userspace CPU context: every scheduled task "runs" and immediately
// yields back.
type yieldBoundary struct{}

func (yieldBoundary) Switch(p *kernel.Process, task *kernel.Task) kernel.Trap {
	_ = p
	_ = task
	return kernel.Trap{Kind: kernel.TrapSyscall, Syscall: kernel.Syscall{Kind: kernel.SyscallYield}}
}

func (yieldBoundary) Return(p *kernel.Process, regs [4]uint32) kernel.Trap {
	_ = p
	_ = regs
	return kernel.Trap{Kind: kernel.TrapSyscall, Syscall: kernel.Syscall{Kind: kernel.SyscallYield}}
}
