// Package consoletest provides in-memory switch consoles for tests.
package consoletest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/switchyard-net/switchyard/internal/faults"
)

// Device is a fake switch CLI served over net.Pipe. It echoes every
// line, answers with a "<hostname>#" prompt and renames itself when it
// receives a hostname command.
type Device struct {
	Hostname string
	// Reject maps a command to the error text the CLI prints for it.
	Reject map[string]string
	// Output maps a command to the text printed before the prompt.
	Output map[string]string
	// Silent devices swallow input and never print a prompt.
	Silent bool
	// DialFailures makes the first N dials fail with CONNECT_FAILED.
	DialFailures int

	mu    sync.Mutex
	dials int
	lines []string
}

// Dial opens a new console stream to the device.
func (d *Device) Dial(ctx context.Context, port int) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.dials++
	fail := d.dials <= d.DialFailures
	if d.Hostname == "" {
		d.Hostname = "Switch"
	}
	d.mu.Unlock()

	if fail {
		return nil, faults.Transient(faults.CodeConnectFailed, fmt.Sprintf("port %d busy", port), nil)
	}

	client, server := net.Pipe()
	go d.serve(server)
	return client, nil
}

func (d *Device) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		d.mu.Lock()
		d.lines = append(d.lines, line)
		if d.Silent {
			d.mu.Unlock()
			continue
		}

		var out strings.Builder
		out.WriteString(line + "\r\n")
		if msg, ok := d.Reject[line]; ok {
			out.WriteString(msg + "\r\n")
		} else if name, ok := strings.CutPrefix(line, "hostname "); ok {
			d.Hostname = strings.TrimSpace(name)
		}
		if text, ok := d.Output[line]; ok {
			out.WriteString(text + "\r\n")
		}
		out.WriteString(d.Hostname + "#")
		d.mu.Unlock()

		if _, err := io.WriteString(conn, out.String()); err != nil {
			return
		}
	}
}

// Lines returns every line the device received, empty lines included.
func (d *Device) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// Commands returns the non-empty lines the device received.
func (d *Device) Commands() []string {
	var cmds []string
	for _, l := range d.Lines() {
		if l != "" {
			cmds = append(cmds, l)
		}
	}
	return cmds
}

func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Bank routes dials to a fake device per console port.
type Bank map[int]*Device

func (b Bank) Dial(ctx context.Context, port int) (io.ReadWriteCloser, error) {
	d, ok := b[port]
	if !ok {
		return nil, faults.Transient(faults.CodeConnectFailed, fmt.Sprintf("nothing attached to port %d", port), nil)
	}
	return d.Dial(ctx, port)
}
