// Package console talks to switch consoles. A Dialer opens a byte
// stream for a console port and a Session runs prompt-synchronised
// commands over it.
package console

import (
	"context"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/switchyard-net/switchyard/internal/faults"
)

// DefaultPromptTimeout bounds a single wait for the device prompt.
const DefaultPromptTimeout = 10 * time.Second

var (
	// promptPattern matches a CLI prompt at the end of the output,
	// for example "sw-01#", "Switch>" or "sw-01(config-if)#".
	promptPattern = regexp.MustCompile(`([A-Za-z0-9][A-Za-z0-9._-]*)(\([A-Za-z0-9-]+\))?[#>]\s*$`)

	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Invalid input`),
		regexp.MustCompile(`(?i)Ambiguous command`),
		regexp.MustCompile(`(?i)Incomplete command`),
		regexp.MustCompile(`(?i)% Error`),
	}
)

// CLIError reports whether output contains a known CLI error marker.
func CLIError(output string) (string, bool) {
	for _, p := range errorPatterns {
		if m := p.FindString(output); m != "" {
			return m, true
		}
	}
	return "", false
}

// PromptHostname extracts the hostname from the trailing prompt.
func PromptHostname(output string) string {
	m := promptPattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// Session runs commands over a console stream. Methods must not be
// called concurrently; each worker owns its session.
type Session struct {
	rw      io.ReadWriteCloser
	timeout time.Duration

	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	err    error
	buf    strings.Builder
}

// NewSession starts reading from rw in the background.
func NewSession(rw io.ReadWriteCloser, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}

	s := &Session{
		rw:      rw,
		timeout: timeout,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Session) pump() {
	defer close(s.chunks)
	b := make([]byte, 4096)
	for {
		n, err := s.rw.Read(b)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, b[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.err = err
			return
		}
	}
}

// Send writes one line terminated by a newline.
func (s *Session) Send(line string) error {
	if _, err := io.WriteString(s.rw, line+"\n"); err != nil {
		return faults.Transient(faults.CodeConnectFailed, "write to console", err)
	}
	return nil
}

// ReadUntilPrompt collects output until a prompt ends it. It fails with
// a transient SERIAL_TIMEOUT when no prompt arrives in time.
func (s *Session) ReadUntilPrompt(ctx context.Context) (string, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		if out := s.buf.String(); promptPattern.MatchString(out) {
			s.buf.Reset()
			return out, nil
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				out := s.buf.String()
				s.buf.Reset()
				return out, faults.Transient(faults.CodeConnectFailed, "console closed", s.err)
			}
			s.buf.Write(chunk)
		case <-timer.C:
			out := s.buf.String()
			s.buf.Reset()
			return out, &faults.DeviceError{
				Code:      faults.CodeSerialTimeout,
				Message:   "timed out waiting for prompt after " + s.timeout.String(),
				Raw:       out,
				Transient: true,
			}
		case <-ctx.Done():
			return s.buf.String(), ctx.Err()
		}
	}
}

// Sync sends an empty line and waits for the prompt.
func (s *Session) Sync(ctx context.Context) (string, error) {
	if err := s.Send(""); err != nil {
		return "", err
	}
	return s.ReadUntilPrompt(ctx)
}

// Exec sends cmd and returns the output up to the next prompt. Output
// carrying a CLI error marker fails with CLI_ERROR.
func (s *Session) Exec(ctx context.Context, cmd string) (string, error) {
	if err := s.Send(cmd); err != nil {
		return "", err
	}

	out, err := s.ReadUntilPrompt(ctx)
	if err != nil {
		return out, err
	}

	if marker, bad := CLIError(out); bad {
		return out, &faults.DeviceError{
			Code:    faults.CodeCLIError,
			Message: "command " + cmd + " rejected: " + marker,
			Raw:     out,
		}
	}

	return out, nil
}

// Close stops the reader and closes the stream.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.rw.Close()
	})
	return err
}
