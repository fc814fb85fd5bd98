package dcc

import (
	"encoding/binary"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ChunkSize is how much a Send writes before waiting for an ack.
const ChunkSize = 512

// DefaultTimeout is how long a Send waits for the peer to connect.
const DefaultTimeout = 5 * time.Minute

// Config controls where Sends listen.
type Config struct {
	// ListenIP is the address to bind. It is also the address offered when
	// OwnIP is unset.
	ListenIP net.IP

	// OwnIP is the address put in offers, e.g. a NAT's public address.
	OwnIP net.IP

	// PortMin and PortMax bound the listening port. 0-0 means any port.
	PortMin int
	PortMax int

	// Timeout is how long to wait for the peer. 0 means DefaultTimeout.
	Timeout time.Duration
}

// Direction tells whether we send or receive.
type Direction int

// Directions.
const (
	Outgoing Direction = iota
	Incoming
)

// Transfer is one running transfer.
type Transfer struct {
	ID        string
	Direction Direction
	Peer      string
	Filename  string
	Size      int64

	// Path is the local file.
	Path string

	transferred int64

	closeOnce sync.Once
	closed    chan struct{}

	mu   sync.Mutex
	conn net.Conn
	ln   net.Listener
}

// DoneFunc is called once when a transfer ends. err is nil on success. It
// runs on the transfer's goroutine.
type DoneFunc func(t *Transfer, err error)

func newTransfer(dir Direction, peer, filename, path string, size int64) *Transfer {
	return &Transfer{
		ID:        uuid.New().String(),
		Direction: dir,
		Peer:      peer,
		Filename:  filename,
		Size:      size,
		Path:      path,
		closed:    make(chan struct{}),
	}
}

// Transferred is how many bytes went through so far.
func (t *Transfer) Transferred() int64 {
	return atomic.LoadInt64(&t.transferred)
}

// Cancel aborts the transfer. The DoneFunc sees an error.
func (t *Transfer) Cancel() {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.ln != nil {
			_ = t.ln.Close()
		}
		if t.conn != nil {
			_ = t.conn.Close()
		}
	})
}

func (t *Transfer) cancelled() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *Transfer) setConn(conn net.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	if t.cancelled() {
		_ = conn.Close()
	}
}

// SendFile offers a file on disk. See Send.
func SendFile(cfg Config, peer, path string, done DoneFunc) (*Transfer, Offer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Offer{}, errors.Wrap(err, "error opening file")
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Offer{}, errors.Wrap(err, "error reading file size")
	}

	t, offer, err := Send(cfg, peer, filepath.Base(path), f, fi.Size(),
		func(t *Transfer, err error) {
			_ = f.Close()
			if done != nil {
				done(t, err)
			}
		})
	if err != nil {
		_ = f.Close()
		return nil, Offer{}, err
	}
	t.Path = path
	return t, offer, nil
}

// Send listens for the peer and streams size bytes from r to it. The returned
// offer is to be sent to the peer. The listener accepts one connection and
// gives up after the configured timeout.
func Send(cfg Config, peer, filename string, r io.Reader, size int64,
	done DoneFunc) (*Transfer, Offer, error) {
	ln, err := listen(cfg)
	if err != nil {
		return nil, Offer{}, err
	}

	ip := cfg.OwnIP
	if ip == nil {
		ip = cfg.ListenIP
	}
	offer := Offer{
		Filename: filename,
		IP:       ip,
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Size:     size,
	}

	t := newTransfer(Outgoing, peer, filename, "", size)
	t.ln = ln

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	go func() {
		err := t.send(ln, r, timeout)
		t.Cancel()
		if done != nil {
			done(t, err)
		}
	}()

	return t, offer, nil
}

func (t *Transfer) send(ln net.Listener, r io.Reader, timeout time.Duration) error {
	if tl, ok := ln.(*net.TCPListener); ok {
		if err := tl.SetDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrap(err, "error setting accept deadline")
		}
	}

	conn, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		if t.cancelled() {
			return errors.New("transfer cancelled")
		}
		return errors.Wrap(err, "peer did not connect")
	}
	t.setConn(conn)
	defer func() { _ = conn.Close() }()

	// An empty file is done as soon as the peer is here.
	if t.Size == 0 {
		return nil
	}

	buf := make([]byte, ChunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := conn.Write(buf[:n]); err != nil {
				return errors.Wrap(err, "error writing to peer")
			}
			sent += int64(n)
		}
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return errors.Wrap(err, "error reading file")
		}
		if n == 0 && sent < t.Size {
			return errors.New("file is shorter than announced")
		}

		// Wait for the peer to catch up with what we sent. Some clients ack
		// partial chunks. The next chunk waits for the whole of this one.
		for {
			ack, err := readAck(conn)
			if err != nil {
				return errors.Wrap(err, "peer closed connection")
			}
			atomic.StoreInt64(&t.transferred, sent-int64(uint32(sent)-ack))
			if acked(sent, ack) {
				break
			}
		}
		if sent >= t.Size {
			return nil
		}
	}
}

// acked tells whether ack confirms all sent bytes. Acks carry the received
// count modulo 2^32 so files of 4 GiB and more wrap around.
func acked(sent int64, ack uint32) bool {
	return uint32(sent) == ack
}

func readAck(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func listen(cfg Config) (net.Listener, error) {
	host := ""
	if cfg.ListenIP != nil {
		host = cfg.ListenIP.String()
	}

	if cfg.PortMin == 0 && cfg.PortMax == 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return nil, errors.Wrap(err, "unable to listen")
		}
		return ln, nil
	}

	if cfg.PortMin <= 0 || cfg.PortMax < cfg.PortMin || cfg.PortMax > 65535 {
		return nil, errors.Errorf("invalid port range %d-%d", cfg.PortMin,
			cfg.PortMax)
	}

	// Start somewhere random so concurrent transfers don't all race for the
	// bottom of the range.
	n := cfg.PortMax - cfg.PortMin + 1
	start := rand.Intn(n)
	for i := 0; i < n; i++ {
		port := cfg.PortMin + (start+i)%n
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, errors.Errorf("no free port in %d-%d", cfg.PortMin, cfg.PortMax)
}

// Get connects to the offer and writes what it receives to dir/name. The
// directory is created if needed. name defaults to the offered file name.
func Get(offer Offer, peer, dir, name string, done DoneFunc) (*Transfer, error) {
	if name == "" {
		name = filepath.Base(offer.Filename)
	}
	if name == "." || name == "/" || name == "" {
		return nil, errors.New("invalid file name")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "unable to create directory")
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create file")
	}

	t := newTransfer(Incoming, peer, offer.Filename, path, offer.Size)

	go func() {
		err := t.get(offer, f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "error closing file")
		}
		t.Cancel()
		if done != nil {
			done(t, err)
		}
	}()

	return t, nil
}

func (t *Transfer) get(offer Offer, w io.Writer) error {
	conn, err := net.DialTimeout("tcp", offer.Addr(), 30*time.Second)
	if err != nil {
		return errors.Wrap(err, "unable to connect")
	}
	t.setConn(conn)
	defer func() { _ = conn.Close() }()

	if t.Size == 0 {
		return nil
	}

	buf := make([]byte, 4096)
	var received int64
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, "error writing file")
			}
			received += int64(n)
			atomic.StoreInt64(&t.transferred, received)

			var ack [4]byte
			binary.BigEndian.PutUint32(ack[:], uint32(received))
			if _, werr := conn.Write(ack[:]); werr != nil {
				return errors.Wrap(werr, "error sending ack")
			}
			if received >= t.Size {
				return nil
			}
		}
		if err != nil {
			if t.cancelled() {
				return errors.New("transfer cancelled")
			}
			return errors.Wrap(err, "peer closed connection")
		}
	}
}
