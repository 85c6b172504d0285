package console

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/skeema/knownhosts"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/pkg/env"
	"go.bug.st/serial"
	"golang.org/x/crypto/ssh"
)

const (
	TransportSerial = "serial"
	TransportSSH    = "ssh"
)

// Dialer opens the console stream wired to a port.
type Dialer interface {
	Dial(ctx context.Context, port int) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, port int) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context, port int) (io.ReadWriteCloser, error) {
	return f(ctx, port)
}

// FromEnv builds the dialer selected by the environment.
func FromEnv(vars env.Environment) (Dialer, error) {
	switch strings.ToLower(vars.Transport) {
	case "", TransportSerial:
		return &SerialDialer{BasePath: vars.SerialBasePath, BaudRate: vars.SerialBaudRate}, nil
	case TransportSSH:
		if vars.ConsoleServerAddr == "" {
			return nil, errors.New("ssh transport requires a console server address")
		}
		return &SSHDialer{
			Addr:           vars.ConsoleServerAddr,
			User:           vars.ConsoleServerUser,
			Password:       vars.ConsoleServerPassword,
			KnownHostsPath: vars.KnownHostsPath,
			Timeout:        vars.PromptTimeout,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported console transport %q", vars.Transport)
	}
}

// SerialDialer opens local serial devices named BasePath followed by the
// port number, e.g. /dev/port3.
type SerialDialer struct {
	BasePath string
	BaudRate int
}

func (d *SerialDialer) Path(port int) string {
	base := d.BasePath
	if base == "" {
		base = "/dev/port"
	}
	return fmt.Sprintf("%s%d", base, port)
}

func (d *SerialDialer) Dial(ctx context.Context, port int) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud <= 0 {
		baud = 9600
	}

	path := d.Path(port)
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, faults.Transient(faults.CodeConnectFailed, "open "+path, err)
	}

	return p, nil
}

// SSHDialer reaches consoles through a console server. The target port
// is selected with the "<user>:<port>" login convention used by
// Opengear and Avocent appliances.
type SSHDialer struct {
	Addr           string
	User           string
	Password       string
	KnownHostsPath string
	Timeout        time.Duration
}

func (d *SSHDialer) config(port int) (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:    fmt.Sprintf("%s:%d", d.User, port),
		Auth:    []ssh.AuthMethod{ssh.Password(d.Password)},
		Timeout: d.Timeout,
	}

	if d.KnownHostsPath == "" {
		return nil, faults.Fatal(faults.CodeConnectFailed, "known hosts file is required for ssh transport", nil)
	}

	db, err := knownhosts.NewDB(d.KnownHostsPath)
	if err != nil {
		return nil, faults.Fatal(faults.CodeConnectFailed, "load known hosts", err)
	}

	cfg.HostKeyCallback = db.HostKeyCallback()
	cfg.HostKeyAlgorithms = db.HostKeyAlgorithms(d.Addr)
	return cfg, nil
}

func (d *SSHDialer) Dial(ctx context.Context, port int) (io.ReadWriteCloser, error) {
	cfg, err := d.config(port)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, faults.Transient(faults.CodeConnectFailed, "dial console server", err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, d.Addr, cfg)
	if err != nil {
		conn.Close()
		return nil, faults.Transient(faults.CodeConnectFailed, "ssh handshake", err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, faults.Transient(faults.CodeConnectFailed, "open ssh session", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ssh stdin")
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ssh stdout")
	}

	modes := ssh.TerminalModes{ssh.ECHO: 0}
	if err := sess.RequestPty("vt100", 80, 200, modes); err != nil {
		client.Close()
		return nil, faults.Transient(faults.CodeConnectFailed, "request pty", err)
	}
	if err := sess.Shell(); err != nil {
		client.Close()
		return nil, faults.Transient(faults.CodeConnectFailed, "start shell", err)
	}

	return &sshStream{Reader: stdout, WriteCloser: stdin, session: sess, client: client}, nil
}

type sshStream struct {
	io.Reader
	io.WriteCloser
	session *ssh.Session
	client  *ssh.Client
}

func (s *sshStream) Close() error {
	s.WriteCloser.Close()
	s.session.Close()
	return s.client.Close()
}

// Discover lists the console ports whose serial device node exists.
func Discover(basePath string) []int {
	d := SerialDialer{BasePath: basePath}

	var found []int
	for port := models.MinPort; port <= models.MaxPort; port++ {
		if _, err := os.Stat(d.Path(port)); err == nil {
			found = append(found, port)
		}
	}
	return found
}
