package client

import (
	"bufio"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/session"
)

// Client sends one command at a time to a server and waits for the response.
type Client struct {
	mutex sync.Mutex
	conn  net.Conn
	r     *bufio.Reader
}

func Dial(address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}

	log.WithField("addr", address).Debug("client connected")
	return New(conn), nil
}

func New(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// Execute sends line to the server and returns its result; an error reported by the server
// is returned as a *session.RemoteError.
func (c *Client) Execute(line string) (session.Result, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	err := session.WriteLine(c.conn, []byte(line))
	if err != nil {
		return session.Result{}, err
	}
	b, err := session.ReadLine(c.r)
	if err != nil {
		return session.Result{}, err
	}
	return session.DecodeResponse(b)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
