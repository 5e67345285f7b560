package iio

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nasa-jpl/adaqlab/comm"
	"golang.org/x/time/rate"
)

const (
	// per-operation I/O budget on the wire
	timeout = 5 * time.Second

	// idle connections to iiod are closed after this long
	idleTimeout = 30 * time.Second
)

// ErrnoError is a negative status returned by iiod
type ErrnoError struct {
	Op   string
	Code int
}

func (e *ErrnoError) Error() string {
	return fmt.Sprintf("iiod: %s: %s", e.Op, syscall.Errno(-e.Code).Error())
}

// Is lets errors.Is match an ErrnoError against a syscall.Errno
func (e *ErrnoError) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	return ok && int(errno) == -e.Code
}

// Client talks to iiod with its line-oriented text protocol.  Every command
// is a single line; the reply starts with a decimal status line, negative
// values being errnos.  Attribute reads and PRINT follow the status with that
// many bytes of payload and a newline.
//
// Client is safe for concurrent use; each command borrows a connection from
// a pool.
type Client struct {
	pool    *comm.Pool
	limiter *rate.Limiter
}

// NewClient returns a client whose connections are made by maker.  If
// interval is positive, commands are spaced at least that far apart.
func NewClient(maker comm.CreationFunc, interval time.Duration) *Client {
	c := &Client{pool: comm.NewPool(1, idleTimeout, maker)}
	if interval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return c
}

// transact sends cmd and an optional raw payload, reads the status and, when
// data is true and the status is positive, that many bytes of response
func (c *Client) transact(cmd string, payload []byte, data bool) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return 0, nil, err
		}
	}
	conn, err := c.pool.Get()
	if err != nil {
		return 0, nil, err
	}
	// err is reserved for link failures; device side errnos do not poison the connection
	defer func() { c.pool.ReturnWithError(conn, err) }()

	wrap, err := comm.NewTimeout(conn, timeout)
	if err != nil {
		return 0, nil, err
	}
	term := comm.NewTerminator(wrap, '\n', '\n')
	if _, err = term.Write([]byte(cmd + "\r")); err != nil {
		return 0, nil, err
	}
	if payload != nil {
		if _, err = wrap.Write(payload); err != nil {
			return 0, nil, err
		}
	}
	line, err := term.ReadLine()
	if err != nil {
		return 0, nil, err
	}
	status, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, nil, fmt.Errorf("iiod: %s: malformed status %q", cmd, line)
	}
	if status < 0 || !data || status == 0 {
		return status, nil, nil
	}
	buf, err := term.ReadFull(status)
	if err != nil {
		return 0, nil, err
	}
	// trailing newline after the payload
	if _, err = term.ReadLine(); err != nil {
		return 0, nil, err
	}
	return status, buf, nil
}

func errno(op string, status int) error {
	if status < 0 {
		return &ErrnoError{Op: op, Code: status}
	}
	return nil
}

// Version returns the iiod version string, e.g. "0.25"
func (c *Client) Version() (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return "", err
		}
	}
	conn, err := c.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { c.pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, timeout)
	if err != nil {
		return "", err
	}
	term := comm.NewTerminator(wrap, '\n', '\n')
	if _, err = term.Write([]byte("VERSION\r")); err != nil {
		return "", err
	}
	line, err := term.ReadLine()
	if err != nil {
		return "", err
	}
	// major.minor.gittag
	pieces := strings.SplitN(strings.TrimSpace(line), ".", 3)
	if len(pieces) < 2 {
		return "", fmt.Errorf("iiod: malformed version %q", line)
	}
	return pieces[0] + "." + pieces[1], nil
}

// SetTimeout sets the timeout iiod applies on its side, in milliseconds
func (c *Client) SetTimeout(ms int) error {
	status, _, err := c.transact("TIMEOUT "+strconv.Itoa(ms), nil, false)
	if err != nil {
		return err
	}
	return errno("TIMEOUT", status)
}

// Describe fetches and parses the context XML
func (c *Client) Describe() (Description, error) {
	status, buf, err := c.transact("PRINT", nil, true)
	if err != nil {
		return Description{}, err
	}
	if err = errno("PRINT", status); err != nil {
		return Description{}, err
	}
	return ParseDescription(bytes.NewReader(bytes.TrimRight(buf, "\x00")))
}

func command(verb string, loc Locator) string {
	if loc.Channel == "" {
		return strings.Join([]string{verb, loc.Device, loc.Attr}, " ")
	}
	dir := "INPUT"
	if loc.Output {
		dir = "OUTPUT"
	}
	return strings.Join([]string{verb, loc.Device, dir, loc.Channel, loc.Attr}, " ")
}

// ReadAttr implements Backend
func (c *Client) ReadAttr(loc Locator) (string, error) {
	status, buf, err := c.transact(command("READ", loc), nil, true)
	if err != nil {
		return "", err
	}
	if status == -int(syscall.ENOENT) {
		return "", fmt.Errorf("%w: %s", ErrAttrNotFound, loc)
	}
	if err = errno("READ "+loc.String(), status); err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00\n"), nil
}

// WriteAttr implements Backend.  The value is sent as a length-prefixed
// payload after the command line
func (c *Client) WriteAttr(loc Locator, value string) error {
	payload := []byte(value)
	cmd := command("WRITE", loc) + " " + strconv.Itoa(len(payload))
	status, _, err := c.transact(cmd, payload, false)
	if err != nil {
		return err
	}
	if status == -int(syscall.ENOENT) {
		return fmt.Errorf("%w: %s", ErrAttrNotFound, loc)
	}
	return errno("WRITE "+loc.String(), status)
}

// Close closes all connections to iiod
func (c *Client) Close() error {
	return c.pool.Close()
}
