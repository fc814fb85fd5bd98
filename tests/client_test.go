package tests

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/horgh/irc"
)

// Client is an IRC client connection to minbif.
type Client struct {
	nick       string
	password   string
	serverHost string
	serverPort uint16

	writeTimeout time.Duration
	readTimeout  time.Duration

	conn net.Conn
	rw   *bufio.ReadWriter

	recvChan chan irc.Message
	sendChan chan irc.Message
	errChan  chan error
	doneChan chan struct{}
	wg       *sync.WaitGroup
}

// NewClient creates a Client. The password opens (or creates) the identity
// named nick.
func NewClient(nick, password, serverHost string, serverPort uint16) *Client {
	return &Client{
		nick:       nick,
		password:   password,
		serverHost: serverHost,
		serverPort: serverPort,

		writeTimeout: 30 * time.Second,
		readTimeout:  100 * time.Millisecond,
	}
}

// Start connects and registers.
//
// The client responds to PING commands. All messages received are sent on the
// receive channel. Messages sent to the send channel go to the server.
//
// If an error occurs, we send a message on the error channel.
//
// The caller must call Stop() to clean up the client.
func (c *Client) Start() (
	<-chan irc.Message,
	chan<- irc.Message,
	<-chan error,
	error,
) {
	if err := c.connect(); err != nil {
		return nil, nil, nil, fmt.Errorf("error connecting: %s", err)
	}

	for _, m := range []irc.Message{
		{Command: "PASS", Params: []string{c.password}},
		{Command: "NICK", Params: []string{c.nick}},
		{Command: "USER", Params: []string{c.nick, "0", "*", c.nick}},
	} {
		if err := c.writeMessage(m); err != nil {
			_ = c.conn.Close()
			return nil, nil, nil, err
		}
	}

	c.recvChan = make(chan irc.Message, 512)
	c.sendChan = make(chan irc.Message, 512)
	c.errChan = make(chan error, 512)
	c.doneChan = make(chan struct{})

	c.wg = &sync.WaitGroup{}

	c.wg.Add(1)
	go c.reader(c.recvChan)

	c.wg.Add(1)
	go c.writer(c.sendChan)

	return c.recvChan, c.sendChan, c.errChan, nil
}

func (c *Client) connect() error {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.Dial("tcp", fmt.Sprintf("%s:%d", c.serverHost,
		c.serverPort))
	if err != nil {
		return fmt.Errorf("error dialing: %s", err)
	}

	c.conn = conn
	c.rw = bufio.NewReadWriter(bufio.NewReader(c.conn), bufio.NewWriter(c.conn))
	return nil
}

func (c *Client) reader(recvChan chan<- irc.Message) {
	defer c.wg.Done()
	defer close(recvChan)

	for {
		select {
		case <-c.doneChan:
			return
		default:
		}

		m, err := c.readMessage()
		if err != nil {
			// Short read timeouts let us notice doneChan.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}

			c.errChan <- fmt.Errorf("error reading message: %s", err)
			return
		}

		if m.Command == "PING" && len(m.Params) > 0 {
			if err := c.writeMessage(irc.Message{
				Command: "PONG",
				Params:  []string{m.Params[0]},
			}); err != nil {
				c.errChan <- fmt.Errorf("error sending pong: %s", err)
				return
			}
		}

		recvChan <- m
	}
}

func (c *Client) writer(sendChan <-chan irc.Message) {
	defer c.wg.Done()

LOOP:
	for {
		select {
		case <-c.doneChan:
			break LOOP
		case m, ok := <-sendChan:
			if !ok {
				break LOOP
			}
			if err := c.writeMessage(m); err != nil {
				c.errChan <- fmt.Errorf("error writing message: %s", err)
				break LOOP
			}
		}
	}

	for range sendChan {
	}
}

// writeMessage writes an IRC message to the connection.
func (c *Client) writeMessage(m irc.Message) error {
	buf, err := m.Encode()
	if err != nil && err != irc.ErrTruncated {
		return fmt.Errorf("unable to encode message: %s", err)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(
		c.writeTimeout)); err != nil {
		return fmt.Errorf("unable to set deadline: %s", err)
	}

	if _, err := c.rw.WriteString(buf); err != nil {
		return err
	}

	if err := c.rw.Flush(); err != nil {
		return fmt.Errorf("flush error: %s", err)
	}

	log.Printf("client %s: sent: %s", c.nick, strings.TrimRight(buf, "\r\n"))
	return nil
}

// readMessage reads a line and parses it as an IRC message.
func (c *Client) readMessage() (irc.Message, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return irc.Message{}, fmt.Errorf("unable to set deadline: %s", err)
	}

	line, err := c.rw.ReadString('\n')
	if err != nil {
		return irc.Message{}, err
	}

	log.Printf("client %s: read: %s", c.nick, strings.TrimRight(line, "\r\n"))

	m, err := irc.ParseMessage(line)
	if err != nil && err != irc.ErrTruncated {
		return irc.Message{}, fmt.Errorf("unable to parse message: %s: %s", line,
			err)
	}

	return m, nil
}

// Stop shuts down the client and cleans up.
//
// You must not send any messages on the send channel after calling this
// function.
func (c *Client) Stop() {
	close(c.doneChan)
	close(c.sendChan)
	_ = c.conn.Close()

	c.wg.Wait()
	close(c.errChan)

	for range c.recvChan {
	}
	for range c.errChan {
	}
}

// GetNick retrieves the client's nick.
func (c *Client) GetNick() string { return c.nick }
