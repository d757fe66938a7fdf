// Package console renders the kernel's process table and recent log
// lines to the framebuffer, with a few keyboard commands for poking at
// process lifecycle. It is the machine operator's view into the kernel,
// not something processes can talk to.
package console

import (
	"fmt"

	"tern/hal"
	"tern/ternos/kernel"

	"tinygo.org/x/tinyfont/freemono"
	"tinygo.org/x/tinyterm"
)

// logLines is how many recent log lines the console keeps on screen.
const logLines = 8

// Console draws the process table plus a log tail. It also implements
// hal.Logger so kernel and loader output lands on screen.
type Console struct {
	k  *kernel.Kernel
	fb hal.Framebuffer
	kb hal.Keyboard

	d *fbDisplay
	t *tinyterm.Terminal

	log   [logLines]string
	logN  int
	sel   int
	dirty bool
}

// New wires a console to a kernel and whatever display/input the
// platform has. Either may be nil; the console then degrades to a log
// sink.
func New(k *kernel.Kernel, disp hal.Display, in hal.Input) *Console {
	c := &Console{k: k, dirty: true}
	if disp != nil {
		c.fb = disp.Framebuffer()
	}
	if in != nil {
		c.kb = in.Keyboard()
	}
	if c.fb != nil {
		c.d = newFBDisplay(c.fb)
		c.t = tinyterm.NewTerminal(c.d)
	}
	return c
}

var termConfig = tinyterm.Config{
	Font:       &freemono.Regular9pt7b,
	FontHeight: 14,
	FontOffset: 10,
}

// WriteLineString implements hal.Logger.
func (c *Console) WriteLineString(s string) {
	copy(c.log[:], c.log[1:])
	c.log[logLines-1] = s
	if c.logN < logLines {
		c.logN++
	}
	c.dirty = true
}

// WriteLineBytes implements hal.Logger.
func (c *Console) WriteLineBytes(b []byte) {
	c.WriteLineString(string(b))
}

// Tick drains pending key events and redraws if anything changed. Call
// it from the main loop between kernel steps.
func (c *Console) Tick() {
	c.handleKeys()
	if c.dirty && c.d != nil {
		c.render()
		c.dirty = false
	}
}

func (c *Console) handleKeys() {
	if c.kb == nil {
		return
	}
	for {
		select {
		case ev := <-c.kb.Events():
			if !ev.Press {
				continue
			}
			c.handleKey(ev)
			c.dirty = true
		default:
			return
		}
	}
}

func (c *Console) handleKey(ev hal.KeyEvent) {
	switch ev.Code {
	case hal.KeyUp:
		if c.sel > 0 {
			c.sel--
		}
		return
	case hal.KeyDown:
		if c.sel < kernel.MaxProcesses-1 {
			c.sel++
		}
		return
	}
	p, ok := c.k.Process(c.sel)
	if !ok {
		return
	}
	switch ev.Rune {
	case 's':
		p.Stop()
		c.WriteLineString(fmt.Sprintf("console: stopped %s", p.Name()))
	case 'c':
		p.Resume()
		c.WriteLineString(fmt.Sprintf("console: resumed %s", p.Name()))
	}
}

// render redraws the whole screen on the one terminal made at New.
// Configure resets the terminal's cursor and scroll state, so every
// repaint starts from the top-left.
func (c *Console) render() {
	c.t.Configure(&termConfig)
	c.fb.ClearRGB(0, 0, 0)

	fmt.Fprintf(c.t, "tern: %d process(es), work %d\r\n", c.k.NumProcesses(), c.k.WorkCount())
	fmt.Fprintf(c.t, "  name         state      id        mem     sc rst drop\r\n")
	for slot := 0; slot < kernel.MaxProcesses; slot++ {
		p, ok := c.k.Process(slot)
		if !ok {
			continue
		}
		marker := ' '
		if slot == c.sel {
			marker = '>'
		}
		used := p.AppBreak() - p.MemStart()
		total := p.MemEnd() - p.MemStart()
		fmt.Fprintf(c.t, "%c %-12s %-10s %-9s %4d/%-4d %2d %3d %4d\r\n",
			marker, p.Name(), p.State(), p.ShortID(), used, total,
			p.SyscallCount(), p.RestartCount(), p.DroppedTasks())
	}

	fmt.Fprintf(c.t, "\r\n")
	for i := logLines - c.logN; i < logLines; i++ {
		fmt.Fprintf(c.t, "%s\r\n", c.log[i])
	}

	_ = c.d.Display()
}
