package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mvdb/index"
	"github.com/leftmike/mvdb/storage/boot"
	"github.com/leftmike/mvdb/storage/dm"
	"github.com/leftmike/mvdb/storage/kv"
	"github.com/leftmike/mvdb/storage/page"
	"github.com/leftmike/mvdb/storage/tm"
	"github.com/leftmike/mvdb/vm"
)

const (
	DefaultStore    = "bbolt"
	DefaultMaxPages = 1024

	pageFile = "mvdb.db"
	logFile  = "mvdb.log"
	tmDir    = "tm"

	indexPrefix = "index."
)

var (
	ErrIndexExists   = errors.New("engine: index already exists")
	ErrVolatileStore = errors.New("engine: store does not survive close")
)

type Options struct {
	Dir      string
	Store    string
	MaxPages int
	NoSync   bool
}

func (opts Options) withDefaults() Options {
	if opts.Store == "" {
		opts.Store = DefaultStore
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = DefaultMaxPages
	} else if opts.MaxPages < page.MinCachePages {
		opts.MaxPages = page.MinCachePages
	}
	return opts
}

// Engine holds every layer of one data directory: the transaction status store, the data
// manager over the page file and log, the version manager, and the indexes.
type Engine struct {
	opts Options
	kv   kv.KV
	tm   *tm.TM
	dm   *dm.DM
	vm   *vm.VM
	boot *boot.Store

	mutex   sync.Mutex
	indexes map[string]*index.Tree
}

// Exists reports whether dir already contains a database.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, pageFile))
	return err == nil
}

func Create(opts Options) (*Engine, error) {
	return start(opts.withDefaults(), true)
}

// Open opens the database in opts.Dir; if it was not closed cleanly, the page file is
// recovered from the log.
func Open(opts Options) (*Engine, error) {
	return start(opts.withDefaults(), false)
}

func start(opts Options, create bool) (*Engine, error) {
	// Transaction states in a volatile store do not outlive the engine.
	if !create && !kv.Durable(opts.Store) {
		return nil, fmt.Errorf("%w: %s: %s", ErrVolatileStore, opts.Store, opts.Dir)
	}

	err := os.MkdirAll(filepath.Join(opts.Dir, tmDir), 0755)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	st, err := kv.Open(opts.Store, filepath.Join(opts.Dir, tmDir), log.StandardLogger())
	if err != nil {
		return nil, err
	}
	tmgr, err := tm.Open(st, opts.NoSync)
	if err != nil {
		st.Close()
		return nil, err
	}

	path := filepath.Join(opts.Dir, pageFile)
	logPath := filepath.Join(opts.Dir, logFile)
	var dmgr *dm.DM
	if create {
		dmgr, err = dm.Create(path, logPath, opts.MaxPages, tmgr)
	} else {
		dmgr, err = dm.Open(path, logPath, opts.MaxPages, tmgr)
	}
	if err != nil {
		tmgr.Close()
		st.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"dir":    opts.Dir,
		"store":  opts.Store,
		"pages":  opts.MaxPages,
		"epoch":  tmgr.Epoch(),
		"create": create,
	}).Info("engine started")
	return &Engine{
		opts:    opts,
		kv:      st,
		tm:      tmgr,
		dm:      dmgr,
		vm:      vm.New(tmgr, dmgr),
		boot:    boot.Open(st),
		indexes: map[string]*index.Tree{},
	}, nil
}

func (e *Engine) VM() *vm.VM {
	return e.vm
}

func (e *Engine) DM() *dm.DM {
	return e.dm
}

func (e *Engine) TM() *tm.TM {
	return e.tm
}

func (e *Engine) Boot() *boot.Store {
	return e.boot
}

func (e *Engine) CreateIndex(name string) (*index.Tree, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	_, err := e.boot.Get(indexPrefix + name)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, name)
	} else if !errors.Is(err, boot.ErrNotFound) {
		return nil, err
	}

	bootUID, err := index.Create(e.dm)
	if err != nil {
		return nil, err
	}
	err = e.boot.Set(indexPrefix+name, bootUID)
	if err != nil {
		return nil, err
	}
	tree, err := index.Load(bootUID, e.dm)
	if err != nil {
		return nil, err
	}
	e.indexes[name] = tree

	log.WithFields(log.Fields{
		"index": name,
		"boot":  bootUID,
	}).Info("index created")
	return tree, nil
}

func (e *Engine) Index(name string) (*index.Tree, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if tree, ok := e.indexes[name]; ok {
		return tree, nil
	}

	bootUID, err := e.boot.Get(indexPrefix + name)
	if err != nil {
		return nil, err
	}
	tree, err := index.Load(bootUID, e.dm)
	if err != nil {
		return nil, err
	}
	e.indexes[name] = tree
	return tree, nil
}

// Indexes returns the names of every index, in order.
func (e *Engine) Indexes() ([]string, error) {
	names, err := e.boot.Names()
	if err != nil {
		return nil, err
	}

	var idxs []string
	for _, name := range names {
		if strings.HasPrefix(name, indexPrefix) {
			idxs = append(idxs, strings.TrimPrefix(name, indexPrefix))
		}
	}
	return idxs, nil
}

func (e *Engine) Close() error {
	e.mutex.Lock()
	for _, tree := range e.indexes {
		tree.Close()
	}
	e.indexes = nil
	e.mutex.Unlock()

	err := e.dm.Close()
	terr := e.tm.Close()
	if err == nil {
		err = terr
	}
	serr := e.kv.Close()
	if err == nil {
		err = serr
	}

	log.WithField("dir", e.opts.Dir).Info("engine closed")
	return err
}
