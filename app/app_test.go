package app

import (
	"testing"

	"tern/hal"
	"tern/ternos/tbf"
)

// recordLED remembers every pin transition.
type recordLED struct {
	states []bool
}

func (l *recordLED) High() { l.states = append(l.states, true) }
func (l *recordLED) Low()  { l.states = append(l.states, false) }

// memFlash serves a fixed image as the app flash region.
type memFlash struct {
	img []byte
}

func (f *memFlash) SizeBytes() uint32       { return uint32(len(f.img)) }
func (f *memFlash) EraseBlockBytes() uint32 { return 4096 }
func (f *memFlash) ReadAt(p []byte, off uint32) (int, error) {
	return copy(p, f.img[off:]), nil
}
func (f *memFlash) WriteAt(p []byte, off uint32) (int, error) { return 0, hal.ErrNotImplemented }
func (f *memFlash) Erase(off, size uint32) error              { return hal.ErrNotImplemented }

type testHAL struct {
	led   *recordLED
	flash *memFlash
}

func (h *testHAL) Logger() hal.Logger   { return nil }
func (h *testHAL) LED() hal.LED         { return h.led }
func (h *testHAL) Display() hal.Display { return nil }
func (h *testHAL) Input() hal.Input     { return nil }
func (h *testHAL) Flash() hal.Flash {
	if h.flash == nil {
		return nil
	}
	return h.flash
}
func (h *testHAL) Time() hal.Time       { return nil }
func (h *testHAL) Serial() hal.Serial   { return nil }

func buildTestApp(t *testing.T, name string) []byte {
	t.Helper()
	b := tbf.Builder{
		Name:       name,
		Enabled:    true,
		MinimumRAM: 512,
		Binary:     []byte{1, 2, 3, 4},
	}
	out, err := b.Build()
	if err != nil {
		t.Fatalf("Build(%s): %v", name, err)
	}
	return out
}

// The LED is an activity light: on from boot, off once the kernel has
// loaded everything and run out of work.
func TestActivityLED(t *testing.T) {
	h := &testHAL{
		led:   &recordLED{},
		flash: &memFlash{img: buildTestApp(t, "blink")},
	}
	step := NewWithConfig(h, Config{AllowUnsigned: true})

	if len(h.led.states) != 1 || !h.led.states[0] {
		t.Fatalf("LED after boot = %v, want [true]", h.led.states)
	}

	for i := 0; i < 10; i++ {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	n := len(h.led.states)
	if n < 2 || h.led.states[n-1] {
		t.Fatalf("LED after idle = %v, want trailing false", h.led.states)
	}
	// Idle steps must not touch the pin again.
	if err := step(); err != nil {
		t.Fatalf("idle step: %v", err)
	}
	if len(h.led.states) != n {
		t.Errorf("idle step toggled the LED: %v", h.led.states)
	}
}

func TestActivityLEDWithoutFlash(t *testing.T) {
	h := &testHAL{led: &recordLED{}}
	step := NewWithConfig(h, Config{AllowUnsigned: true})
	for i := 0; i < 3; i++ {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := []bool{true, false}
	if len(h.led.states) != 2 || h.led.states[0] != want[0] || h.led.states[1] != want[1] {
		t.Errorf("LED transitions = %v, want %v", h.led.states, want)
	}
}
