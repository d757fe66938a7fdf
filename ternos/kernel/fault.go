package kernel

// FaultAction is what the configured policy wants done with a faulted
// process.
type FaultAction uint8

const (
	// FaultActionPanic halts the kernel. Useful during bring-up when a
	// process fault means a board bug.
	FaultActionPanic FaultAction = iota
	// FaultActionRestart resets the process to Unstarted with a clean
	// memory image.
	FaultActionRestart
	// FaultActionStop leaves the process permanently stopped-faulted.
	FaultActionStop
)

// FaultPolicy decides, per process and per fault, what happens next.
type FaultPolicy interface {
	Action(p *Process) FaultAction
}

// PanicFaultPolicy panics the kernel on any process fault.
type PanicFaultPolicy struct{}

func (PanicFaultPolicy) Action(*Process) FaultAction { return FaultActionPanic }

// StopFaultPolicy permanently stops any faulting process.
type StopFaultPolicy struct{}

func (StopFaultPolicy) Action(*Process) FaultAction { return FaultActionStop }

// RestartFaultPolicy restarts a faulting process up to MaxRestarts times,
// then stops it for good.
type RestartFaultPolicy struct {
	MaxRestarts uint32
}

func (f RestartFaultPolicy) Action(p *Process) FaultAction {
	if p.RestartCount() >= f.MaxRestarts {
		return FaultActionStop
	}
	return FaultActionRestart
}
