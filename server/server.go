package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/engine"
	"github.com/leftmike/mvdb/repl"
	"github.com/leftmike/mvdb/session"
)

const (
	DefaultWorkers   = 20
	DefaultQueueSize = 100
)

var ErrServerClosed = errors.New("server: closed")

// ConsoleFunc runs an interactive console session, such as over ssh.
type ConsoleFunc func(ses *session.Session, r io.Reader, w io.Writer)

// Server serves the line protocol and the ssh console: each connection is handed to a fixed
// pool of workers through a bounded queue. If the queue is full, the accepting goroutine
// serves the connection itself, which stops it from accepting until that connection is done.
type Server struct {
	Engine    *engine.Engine
	Workers   int
	QueueSize int
	Console   ConsoleFunc

	mutex      sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[net.Conn]struct{}
	connCount  int32
	shutdown   bool
	closed     bool
	work       chan job
	done       chan struct{}
}

type handler func(conn net.Conn, entry *log.Entry)

type job struct {
	conn   net.Conn
	handle handler
}

func (svr *Server) init() {
	if svr.listeners != nil {
		return
	}

	svr.listeners = map[net.Listener]struct{}{}
	svr.activeConn = map[net.Conn]struct{}{}

	workers := svr.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := svr.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	svr.work = make(chan job, queueSize)
	svr.done = make(chan struct{})
	for w := 0; w < workers; w += 1 {
		go svr.worker()
	}

	log.WithFields(log.Fields{
		"workers": workers,
		"queue":   queueSize,
	}).Info("server workers started")
}

func (svr *Server) worker() {
	for {
		select {
		case j := <-svr.work:
			svr.handleConn(j)
		case <-svr.done:
			return
		}
	}
}

func (svr *Server) addListener(l net.Listener) bool {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	svr.init()
	if svr.shutdown {
		return false
	}
	svr.listeners[l] = struct{}{}
	return true
}

// enqueue tracks the connection and queues it for a worker. It returns false if the server
// is closed; queued is false if the queue is full and the caller must serve the connection.
func (svr *Server) enqueue(j job) (ok bool, queued bool) {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return false, false
	}
	svr.activeConn[j.conn] = struct{}{}
	atomic.AddInt32(&svr.connCount, 1)

	select {
	case svr.work <- j:
		return true, true
	default:
		return true, false
	}
}

func (svr *Server) untrackConn(conn net.Conn) bool {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return false
	}
	delete(svr.activeConn, conn)
	return true
}

func (svr *Server) ListenAndServe(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return svr.Serve(l)
}

// Serve accepts line protocol connections on l until the server is closed or shut down.
func (svr *Server) Serve(l net.Listener) error {
	return svr.serve(l, "line", svr.serveLines)
}

func (svr *Server) serve(l net.Listener, protocol string, handle handler) error {
	if !svr.addListener(l) {
		l.Close()
		return ErrServerClosed
	}
	log.WithFields(log.Fields{
		"addr":     l.Addr().String(),
		"protocol": protocol,
	}).Info("server listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			svr.mutex.Lock()
			if svr.shutdown {
				err = ErrServerClosed
			}
			svr.mutex.Unlock()
			log.WithField("error", err.Error()).Error("server accept")
			return err
		}

		j := job{conn: conn, handle: handle}
		ok, queued := svr.enqueue(j)
		if !ok {
			conn.Close()
		} else if !queued {
			log.WithField("addr", conn.RemoteAddr().String()).Warn(
				"server queue full: serving connection on accept goroutine")
			svr.handleConn(j)
		}
	}
}

func (svr *Server) handleConn(j job) {
	defer atomic.AddInt32(&svr.connCount, -1)

	entry := log.WithField("addr", j.conn.RemoteAddr().String())
	entry.Info("connected")

	defer func() {
		if svr.untrackConn(j.conn) {
			j.conn.Close()
		}
		entry.Info("disconnected")
	}()

	j.handle(j.conn, entry)
}

func (svr *Server) serveLines(conn net.Conn, entry *log.Entry) {
	ses := session.New(svr.Engine, entry)
	defer ses.Close()

	r := bufio.NewReader(conn)
	for {
		req, err := session.ReadLine(r)
		if err != nil {
			if err != io.EOF {
				entry.WithField("error", err.Error()).Error("read request")
			}
			return
		}

		res, err := ses.Execute(string(req))
		if err != nil {
			entry.WithField("error", err.Error()).Debug("command failed")
		}
		err = session.WriteLine(conn, session.EncodeResponse(res, err))
		if err != nil {
			entry.WithField("error", err.Error()).Error("write response")
			return
		}
	}
}

func (svr *Server) console(ses *session.Session, r io.Reader, w io.Writer) {
	if svr.Console != nil {
		svr.Console(ses, r, w)
	} else {
		repl.Run(ses, r, w, "")
	}
}

func (svr *Server) closeListeners() error {
	var err error
	for l := range svr.listeners {
		lerr := l.Close()
		if lerr != nil && err == nil {
			err = lerr
		}
		delete(svr.listeners, l)
	}
	return err
}

// Close immediately closes every listener and connection. Connections still waiting in the
// queue are dropped.
func (svr *Server) Close() error {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return nil
	}
	svr.init()
	svr.closed = true
	svr.shutdown = true

	err := svr.closeListeners()
	for conn := range svr.activeConn {
		conn.Close()
		delete(svr.activeConn, conn)
	}
	close(svr.done)

	for {
		select {
		case <-svr.work:
			atomic.AddInt32(&svr.connCount, -1)
		default:
			return err
		}
	}
}

// Shutdown closes every listener and then waits for the active connections to finish or for
// ctx to be done.
func (svr *Server) Shutdown(ctx context.Context) error {
	svr.mutex.Lock()
	if svr.closed {
		svr.mutex.Unlock()
		return nil
	}
	svr.init()
	svr.shutdown = true
	err := svr.closeListeners()
	svr.mutex.Unlock()

	last := -1
	for {
		cc := svr.ActiveConns()
		if cc == 0 {
			break
		}
		if cc != last {
			p := ""
			if cc > 1 {
				p = "s"
			}
			fmt.Printf("%d active connection%s\n", cc, p)
			last = cc
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	svr.mutex.Lock()
	if !svr.closed {
		svr.closed = true
		close(svr.done)
	}
	svr.mutex.Unlock()
	return err
}

// ActiveConns returns the number of connections being served or waiting to be served.
func (svr *Server) ActiveConns() int {
	return int(atomic.LoadInt32(&svr.connCount))
}
