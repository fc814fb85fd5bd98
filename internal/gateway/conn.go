package gateway

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// deadliner is implemented by network connections. Pipes such as stdin and
// stdout in inetd mode have no deadlines.
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Conn is the connection to the IRC client.
type Conn struct {
	rwc    io.ReadWriteCloser
	rw     *bufio.ReadWriter
	ioWait time.Duration
	log    *logrus.Entry
}

// NewConn wraps a connection. ioWait bounds each read and write when the
// connection supports deadlines. 0 means no bound.
func NewConn(rwc io.ReadWriteCloser, ioWait time.Duration, log *logrus.Entry) Conn {
	return Conn{
		rwc:    rwc,
		rw:     bufio.NewReadWriter(bufio.NewReader(rwc), bufio.NewWriter(rwc)),
		ioWait: ioWait,
		log:    log,
	}
}

// Close closes the underlying connection.
func (c Conn) Close() error {
	return c.rwc.Close()
}

// RemoteAddr is the client's address, "" if not a network connection.
func (c Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok {
		return nc.RemoteAddr().String()
	}
	return ""
}

// LocalIP is our side of the connection, nil if not a network connection.
func (c Conn) LocalIP() net.IP {
	nc, ok := c.rwc.(net.Conn)
	if !ok {
		return nil
	}
	if addr, ok := nc.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// Read reads a line from the connection.
func (c Conn) Read() (string, error) {
	if d, ok := c.rwc.(deadliner); ok && c.ioWait > 0 {
		if err := d.SetReadDeadline(time.Now().Add(c.ioWait)); err != nil {
			// Not fatal. There may be something buffered to read.
			c.log.Warningf("Error setting read deadline: %s", err)
		}
	}

	line, err := c.rw.ReadString('\n')
	if err != nil {
		// There may be something read even with error.
		return line, errors.Wrap(err, "error reading")
	}

	return line, nil
}

// Write writes a string to the connection.
func (c Conn) Write(s string) error {
	if d, ok := c.rwc.(deadliner); ok && c.ioWait > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
			return errors.Wrap(err, "error setting write deadline")
		}
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return errors.Wrap(err, "error writing")
	}

	if sz != len(s) {
		return errors.New("short write")
	}

	if err := c.rw.Flush(); err != nil {
		return errors.Wrap(err, "flush error")
	}

	return nil
}

// WriteMessage encodes and writes a message. A message too long for one line
// is truncated and written anyway. One that can't be encoded is dropped.
func (c Conn) WriteMessage(m irc.Message) error {
	buf, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		c.log.Infof("Dropping message %s: %s", m, err)
		return nil
	}
	if err == irc.ErrTruncated {
		c.log.Debugf("Truncated message: %s", m)
	}

	return c.Write(buf)
}
