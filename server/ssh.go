package server

import (
	"crypto/subtle"
	"fmt"
	"net"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/leftmike/mvdb/session"
)

const (
	consolePrompt = "mvdb> "
)

// SSHConfig configures the ssh console. A client may log in with a password from Passwords
// (plain text or a bcrypt hash) or with one of AuthorizedKeys; if there are neither, every
// client is let in.
type SSHConfig struct {
	Address        string
	HostKeys       []ssh.Signer
	AuthorizedKeys []ssh.PublicKey
	Passwords      map[string]string
}

func checkPassword(want string, got []byte) bool {
	if strings.HasPrefix(want, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(want), got) == nil
	}
	return subtle.ConstantTimeCompare([]byte(want), got) == 1
}

func (sc SSHConfig) serverConfig() (*ssh.ServerConfig, error) {
	if len(sc.HostKeys) == 0 {
		return nil, fmt.Errorf("server: ssh: no host keys")
	}

	cfg := &ssh.ServerConfig{
		BannerCallback: func(md ssh.ConnMetadata) string {
			return "mvdb console\n"
		},
		AuthLogCallback: func(md ssh.ConnMetadata, method string, err error) {
			if method == "none" {
				return
			}
			entry := log.WithFields(log.Fields{
				"user":   md.User(),
				"addr":   md.RemoteAddr().String(),
				"method": method,
			})
			if err != nil {
				entry.WithField("error", err.Error()).Warn("ssh login failed")
			} else {
				entry.Info("ssh login")
			}
		},
	}
	for _, key := range sc.HostKeys {
		cfg.AddHostKey(key)
	}

	if len(sc.Passwords) > 0 {
		passwords := sc.Passwords
		cfg.PasswordCallback =
			func(md ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
				want, ok := passwords[md.User()]
				if !ok || !checkPassword(want, password) {
					return nil, fmt.Errorf("server: ssh: bad user or password: %s", md.User())
				}
				return nil, nil
			}
	}

	if len(sc.AuthorizedKeys) > 0 {
		authorized := map[string]struct{}{}
		for _, key := range sc.AuthorizedKeys {
			authorized[string(key.Marshal())] = struct{}{}
		}
		cfg.PublicKeyCallback =
			func(md ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
				if _, ok := authorized[string(key.Marshal())]; !ok {
					return nil, fmt.Errorf("server: ssh: key not authorized for %s", md.User())
				}
				return nil, nil
			}
	}

	if cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil {
		cfg.NoClientAuth = true
		log.Warn("ssh console: no client authentication")
	}
	return cfg, nil
}

func (svr *Server) ListenAndServeSSH(sshCfg SSHConfig) error {
	l, err := net.Listen("tcp", sshCfg.Address)
	if err != nil {
		return err
	}
	return svr.ServeSSH(l, sshCfg)
}

// ServeSSH accepts ssh connections on l. They share the worker pool and the shutdown of the
// line protocol connections; each session channel of a connection gets its own console.
func (svr *Server) ServeSSH(l net.Listener, sshCfg SSHConfig) error {
	cfg, err := sshCfg.serverConfig()
	if err != nil {
		l.Close()
		return err
	}

	return svr.serve(l, "ssh",
		func(conn net.Conn, entry *log.Entry) {
			svr.serveSSH(cfg, conn, entry)
		})
}

func (svr *Server) serveSSH(cfg *ssh.ServerConfig, conn net.Conn, entry *log.Entry) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("ssh handshake")
		return
	}
	defer sconn.Close()

	entry = entry.WithField("user", sconn.User())
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, nch.ChannelType())
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			entry.WithField("error", err.Error()).Warn("ssh channel")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			svr.runConsole(ch, creqs, entry)
		}()
	}
	wg.Wait()
}

// consoleRequest reports whether a channel request is one the console can satisfy.
func consoleRequest(typ string) bool {
	switch typ {
	case "pty-req", "shell", "env", "window-change":
		return true
	}
	return false
}

func (svr *Server) runConsole(ch ssh.Channel, reqs <-chan *ssh.Request, entry *log.Entry) {
	defer ch.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(consoleRequest(req.Type), nil)
			}
		}
	}()

	term := terminal.NewTerminal(ch, consolePrompt)
	ses := session.New(svr.Engine, entry)
	defer ses.Close()

	entry.Debug("console started")
	svr.console(ses, &lineReader{term: term}, term)
	entry.Debug("console done")
}

// lineReader turns the lines read from a terminal back into a stream for the repl.
type lineReader struct {
	term *terminal.Terminal
	buf  []byte
}

func (lr *lineReader) Read(b []byte) (int, error) {
	if len(lr.buf) == 0 {
		line, err := lr.term.ReadLine()
		if err != nil {
			return 0, err
		}
		lr.buf = append(lr.buf[:0], line...)
		lr.buf = append(lr.buf, '\n')
	}

	n := copy(b, lr.buf)
	lr.buf = lr.buf[n:]
	return n, nil
}
