package kernel

// taskQueueSlots bounds the per-process pending upcall queue. Enqueueing
// into a full queue drops the task and bumps the drop counter; delivery is
// best-effort by contract.
const taskQueueSlots = 10

// TaskSource records who scheduled an upcall.
type TaskSource uint8

const (
	// SourceKernel marks calls the kernel itself schedules, such as the
	// initial entry-point call. They survive driver unsubscribes.
	SourceKernel TaskSource = iota
	// SourceDriver marks calls scheduled by a driver on behalf of a
	// subscription.
	SourceDriver
)

// TaskKind selects the Task union arm.
type TaskKind uint8

const (
	// TaskFunctionCall delivers an upcall into the process.
	TaskFunctionCall TaskKind = iota
	// TaskIPC notifies the process about an IPC event from another process.
	TaskIPC
)

// IPCKind describes the IPC event delivered by a TaskIPC task.
type IPCKind uint8

const (
	IPCService IPCKind = iota
	IPCClientWrite
	IPCServiceWrite
)

// Task is one pending unit of work for a process: produced once by the
// kernel or a driver, consumed once by the kernel loop right before
// switching to the process.
type Task struct {
	Kind   TaskKind
	Source TaskSource

	// FunctionCall fields.
	DriverID uint32 // meaningful only when Source == SourceDriver
	PC       uint32
	Args     [4]uint32

	// IPC fields.
	IPCCaller int
	IPCKind   IPCKind
}

// taskQueue is a fixed ring. head and tail are wrapped at the slot
// count on every advance, so they stay valid indices no matter how many
// tasks flow through.
type taskQueue struct {
	head  uint8
	tail  uint8
	count uint8
	slots [taskQueueSlots]Task
}

func (q *taskQueue) len() int { return int(q.count) }

func (q *taskQueue) push(t Task) bool {
	if q.count >= taskQueueSlots {
		return false
	}
	q.slots[q.head] = t
	q.head = (q.head + 1) % taskQueueSlots
	q.count++
	return true
}

func (q *taskQueue) pop() (Task, bool) {
	if q.count == 0 {
		return Task{}, false
	}
	t := q.slots[q.tail]
	q.tail = (q.tail + 1) % taskQueueSlots
	q.count--
	return t, true
}

// removeIf drops every queued task matching fn, preserving the relative
// order of the remainder. Returns how many were removed.
func (q *taskQueue) removeIf(fn func(Task) bool) int {
	n := q.len()
	removed := 0
	for i := 0; i < n; i++ {
		t, ok := q.pop()
		if !ok {
			break
		}
		if fn(t) {
			removed++
			continue
		}
		q.push(t)
	}
	return removed
}

func (q *taskQueue) reset() {
	q.head = 0
	q.tail = 0
	q.count = 0
}
