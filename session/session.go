package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/engine"
	"github.com/leftmike/mvdb/vm"
)

var (
	ErrNoTransaction = errors.New("session: no active transaction")
)

// Session executes commands for one client. Outside of an explicit transaction, each
// command runs in a read committed transaction of its own, which is committed if the
// command succeeds and aborted otherwise.
type Session struct {
	e     *engine.Engine
	entry *log.Entry
	xid   uint64
	level vm.Level
}

func New(e *engine.Engine, entry *log.Entry) *Session {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	return &Session{
		e:     e,
		entry: entry,
	}
}

// InTransaction returns the xid of the explicit transaction, or 0.
func (ses *Session) InTransaction() uint64 {
	return ses.xid
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return strings.ToLower(line), ""
	}
	return strings.ToLower(line[:idx]), strings.TrimLeft(line[idx:], " \t")
}

func parseUint(name, s string) (uint64, error) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: %s: expected an unsigned integer: %q", name, s)
	}
	return u, nil
}

func wantArgs(cmd string, args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("session: usage: %s %s", cmd, usage)
	}
	return nil
}

// Execute runs one command line.
func (ses *Session) Execute(line string) (Result, error) {
	cmd, rest := splitCommand(line)
	ses.entry.WithField("command", cmd).Debug("session: execute")

	switch cmd {
	case "":
		return Result{}, nil
	case "begin":
		return ses.begin(strings.Fields(rest))
	case "commit":
		return ses.commit()
	case "abort", "rollback":
		return ses.abort()
	case "read":
		args := strings.Fields(rest)
		if err := wantArgs(cmd, args, 1, "<uid>"); err != nil {
			return Result{}, err
		}
		uid, err := parseUint("uid", args[0])
		if err != nil {
			return Result{}, err
		}
		return ses.run(func(xid uint64) (Result, error) {
			return ses.read(xid, uid)
		})
	case "insert":
		if rest == "" {
			return Result{}, errors.New("session: usage: insert <text>")
		}
		return ses.run(func(xid uint64) (Result, error) {
			return ses.insert(xid, rest)
		})
	case "delete":
		args := strings.Fields(rest)
		if err := wantArgs(cmd, args, 1, "<uid>"); err != nil {
			return Result{}, err
		}
		uid, err := parseUint("uid", args[0])
		if err != nil {
			return Result{}, err
		}
		return ses.run(func(xid uint64) (Result, error) {
			return ses.delete(xid, uid)
		})
	case "index":
		return ses.index(strings.Fields(rest))
	case "indexes":
		names, err := ses.e.Indexes()
		if err != nil {
			return Result{}, err
		}
		r := Result{
			Tag:     "indexes",
			Columns: []string{"name"},
		}
		for _, name := range names {
			r.Rows = append(r.Rows, []string{name})
		}
		return r, nil
	}
	return Result{}, fmt.Errorf("session: unknown command: %s", cmd)
}

func (ses *Session) begin(args []string) (Result, error) {
	if ses.xid != 0 {
		return Result{}, fmt.Errorf("session: transaction %d already active", ses.xid)
	}

	level := vm.ReadCommitted
	if len(args) > 1 {
		return Result{}, errors.New("session: usage: begin [rc|rr]")
	} else if len(args) == 1 {
		switch strings.ToLower(args[0]) {
		case "rc", "read-committed":
			level = vm.ReadCommitted
		case "rr", "repeatable-read":
			level = vm.RepeatableRead
		default:
			return Result{}, fmt.Errorf("session: begin: unknown isolation level: %s", args[0])
		}
	}

	xid, err := ses.e.VM().Begin(level)
	if err != nil {
		return Result{}, err
	}
	ses.xid = xid
	ses.level = level
	return Result{Tag: fmt.Sprintf("begin %d %s", xid, level)}, nil
}

func (ses *Session) commit() (Result, error) {
	if ses.xid == 0 {
		return Result{}, ErrNoTransaction
	}
	xid := ses.xid
	ses.xid = 0

	err := ses.e.VM().Commit(xid)
	if err != nil {
		// A transaction aborted by a conflict stays known until it is aborted.
		ses.e.VM().Abort(xid)
		return Result{}, err
	}
	return Result{Tag: fmt.Sprintf("commit %d", xid)}, nil
}

func (ses *Session) abort() (Result, error) {
	if ses.xid == 0 {
		return Result{}, ErrNoTransaction
	}
	xid := ses.xid
	ses.xid = 0

	err := ses.e.VM().Abort(xid)
	if err != nil {
		return Result{}, err
	}
	return Result{Tag: fmt.Sprintf("abort %d", xid)}, nil
}

func (ses *Session) run(fn func(xid uint64) (Result, error)) (Result, error) {
	if ses.xid != 0 {
		return fn(ses.xid)
	}

	xid, err := ses.e.VM().Begin(vm.ReadCommitted)
	if err != nil {
		return Result{}, err
	}
	r, err := fn(xid)
	if err != nil {
		aerr := ses.e.VM().Abort(xid)
		if aerr != nil {
			err = fmt.Errorf("%w; abort: %s", err, aerr)
		}
		return Result{}, err
	}

	err = ses.e.VM().Commit(xid)
	if err != nil {
		ses.e.VM().Abort(xid)
		return Result{}, err
	}
	return r, nil
}

func (ses *Session) read(xid, uid uint64) (Result, error) {
	data, err := ses.e.VM().Read(xid, uid)
	if err != nil {
		return Result{}, err
	}

	r := Result{
		Tag:     "read",
		Columns: []string{"uid", "data"},
	}
	if data != nil {
		r.Rows = [][]string{{strconv.FormatUint(uid, 10), string(data)}}
	}
	return r, nil
}

func (ses *Session) insert(xid uint64, text string) (Result, error) {
	uid, err := ses.e.VM().Insert(xid, []byte(text))
	if err != nil {
		return Result{}, err
	}
	return Result{
		Tag:     "insert",
		Columns: []string{"uid"},
		Rows:    [][]string{{strconv.FormatUint(uid, 10)}},
	}, nil
}

func (ses *Session) delete(xid, uid uint64) (Result, error) {
	ok, err := ses.e.VM().Delete(xid, uid)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return Result{Tag: "delete 1"}, nil
	}
	return Result{Tag: "delete 0"}, nil
}

func uidRows(uids []uint64) [][]string {
	rows := make([][]string, 0, len(uids))
	for _, uid := range uids {
		rows = append(rows, []string{strconv.FormatUint(uid, 10)})
	}
	return rows
}

func (ses *Session) index(args []string) (Result, error) {
	if len(args) < 2 {
		return Result{}, errors.New("session: usage: index create|insert|search|range <name> ...")
	}

	op := strings.ToLower(args[0])
	name := args[1]
	args = args[2:]
	switch op {
	case "create":
		if err := wantArgs("index create", args, 0, "<name>"); err != nil {
			return Result{}, err
		}
		_, err := ses.e.CreateIndex(name)
		if err != nil {
			return Result{}, err
		}
		return Result{Tag: "index create " + name}, nil
	case "insert":
		if err := wantArgs("index insert", args, 2, "<name> <key> <uid>"); err != nil {
			return Result{}, err
		}
		key, err := parseUint("key", args[0])
		if err != nil {
			return Result{}, err
		}
		uid, err := parseUint("uid", args[1])
		if err != nil {
			return Result{}, err
		}
		tree, err := ses.e.Index(name)
		if err != nil {
			return Result{}, err
		}
		err = tree.Insert(key, uid)
		if err != nil {
			return Result{}, err
		}
		return Result{Tag: "index insert " + name}, nil
	case "search":
		if err := wantArgs("index search", args, 1, "<name> <key>"); err != nil {
			return Result{}, err
		}
		key, err := parseUint("key", args[0])
		if err != nil {
			return Result{}, err
		}
		tree, err := ses.e.Index(name)
		if err != nil {
			return Result{}, err
		}
		uids, err := tree.Search(key)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Tag:     "index search " + name,
			Columns: []string{"uid"},
			Rows:    uidRows(uids),
		}, nil
	case "range":
		if err := wantArgs("index range", args, 2, "<name> <lo> <hi>"); err != nil {
			return Result{}, err
		}
		lo, err := parseUint("lo", args[0])
		if err != nil {
			return Result{}, err
		}
		hi, err := parseUint("hi", args[1])
		if err != nil {
			return Result{}, err
		}
		tree, err := ses.e.Index(name)
		if err != nil {
			return Result{}, err
		}
		uids, err := tree.SearchRange(lo, hi)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Tag:     "index range " + name,
			Columns: []string{"uid"},
			Rows:    uidRows(uids),
		}, nil
	}
	return Result{}, fmt.Errorf("session: unknown index command: %s", op)
}

// Close aborts the explicit transaction, if any.
func (ses *Session) Close() {
	if ses.xid != 0 {
		err := ses.e.VM().Abort(ses.xid)
		if err != nil {
			ses.entry.WithField("xid", ses.xid).WithError(err).Warn("session: abort on close")
		}
		ses.xid = 0
	}
}
