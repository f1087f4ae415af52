package cmd

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh"

	"github.com/leftmike/mvdb/engine"
	"github.com/leftmike/mvdb/server"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the mvdb server",
		RunE:  startRun,
	}

	dataDir  = "testdata"
	store    = engine.DefaultStore
	maxPages = engine.DefaultMaxPages
	noSync   = false

	host    = "localhost"
	port    = "8240"
	workers = server.DefaultWorkers

	sshServer      = false
	sshPort        = "localhost:8241"
	authorizedKeys = ""
	hostKeys       = []string{"id_rsa"}
)

func initEngineFlags(fs *pflag.FlagSet) {
	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the database")
	cfgVars["data"] = fs.Lookup("data")

	fs.StringVar(&store, "store", store,
		"transaction status store: bbolt, badger, pebble, or memory (not kept after exit)")
	cfgVars["store"] = fs.Lookup("store")

	fs.IntVar(&maxPages, "max-pages", maxPages, "maximum `pages` to cache")
	cfgVars["max-pages"] = fs.Lookup("max-pages")

	fs.BoolVar(&noSync, "no-sync", noSync, "don't sync commits")
	cfgVars["no-sync"] = fs.Lookup("no-sync")
}

func initAddressFlags(fs *pflag.FlagSet) {
	fs.StringVar(&host, "host", host, "`host` used to serve the line protocol")
	cfgVars["host"] = fs.Lookup("host")

	fs.StringVarP(&port, "port", "p", port, "`port` used to serve the line protocol")
	cfgVars["port"] = fs.Lookup("port")
}

func init() {
	fs := startCmd.Flags()
	initEngineFlags(fs)
	initAddressFlags(fs)

	fs.IntVar(&workers, "workers", workers, "`number` of connections served at once")
	cfgVars["workers"] = fs.Lookup("workers")

	fs.BoolVar(&sshServer, "ssh", sshServer, "`flag` to control serving SSH")
	cfgVars["ssh"] = fs.Lookup("ssh")

	fs.StringVar(&sshPort, "ssh-port", sshPort, "`port` used to serve SSH")
	cfgVars["ssh-port"] = fs.Lookup("ssh-port")

	fs.StringVar(&authorizedKeys, "ssh-authorized-keys", authorizedKeys,
		"`file` containing authorized ssh keys")
	cfgVars["ssh-authorized-keys"] = fs.Lookup("ssh-authorized-keys")

	fs.StringSliceVar(&hostKeys, "ssh-host-key", hostKeys,
		"`file` containing a ssh host key; multiple allowed")
	cfgVars["ssh-host-key"] = fs.Lookup("ssh-host-key")

	cfgVars["accounts"] = nil

	mvdbCmd.AddCommand(startCmd)
}

func engineOptions() engine.Options {
	return engine.Options{
		Dir:      dataDir,
		Store:    store,
		MaxPages: maxPages,
		NoSync:   noSync,
	}
}

// openEngine opens the database in the data directory, creating it if necessary.
func openEngine() (*engine.Engine, error) {
	opts := engineOptions()

	var e *engine.Engine
	var err error
	if engine.Exists(opts.Dir) {
		e, err = engine.Open(opts)
	} else {
		e, err = engine.Create(opts)
	}
	if err != nil {
		return nil, fmt.Errorf("mvdb: %s", err)
	}
	return e, nil
}

func userAccounts() map[string]string {
	val := cfg["accounts"]
	if val == nil {
		return nil
	}
	var slice []map[string]interface{}
	switch val := val.(type) {
	case []map[string]interface{}:
		slice = val
	case []interface{}:
		for _, obj := range val {
			account, ok := obj.(map[string]interface{})
			if !ok {
				return nil
			}
			slice = append(slice, account)
		}
	default:
		return nil
	}

	userPasswords := map[string]string{}
	for _, account := range slice {
		user, ok := account["user"].(string)
		if !ok {
			return nil
		}
		password, ok := account["password"].(string)
		if !ok {
			return nil
		}
		userPasswords[user] = password
	}

	return userPasswords
}

func sshConfig() (server.SSHConfig, error) {
	sshCfg := server.SSHConfig{
		Address:   sshPort,
		Passwords: userAccounts(),
	}

	for _, hostKey := range hostKeys {
		b, err := ioutil.ReadFile(hostKey)
		if err != nil {
			return sshCfg, fmt.Errorf("mvdb: host key: %s", err)
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			return sshCfg, fmt.Errorf("mvdb: host key: %s: %s", hostKey, err)
		}
		sshCfg.HostKeys = append(sshCfg.HostKeys, signer)
	}

	if authorizedKeys != "" {
		b, err := ioutil.ReadFile(authorizedKeys)
		if err != nil {
			return sshCfg, fmt.Errorf("mvdb: authorized keys: %s", err)
		}
		for len(b) > 0 {
			key, _, _, rest, err := ssh.ParseAuthorizedKey(b)
			if err != nil {
				return sshCfg, fmt.Errorf("mvdb: authorized keys: %s: %s", authorizedKeys, err)
			}
			sshCfg.AuthorizedKeys = append(sshCfg.AuthorizedKeys, key)
			b = rest
		}
	}
	return sshCfg, nil
}

func startRun(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer func() {
		err := e.Close()
		if err != nil {
			log.WithField("error", err.Error()).Error("engine close")
		}
	}()

	svr := &server.Server{
		Engine:  e,
		Workers: workers,
	}

	addr := net.JoinHostPort(host, port)
	go func() {
		fmt.Fprintf(os.Stderr, "mvdb: %s\n", svr.ListenAndServe(addr))
	}()

	if sshServer {
		sshCfg, err := sshConfig()
		if err != nil {
			return err
		}

		go func() {
			fmt.Fprintf(os.Stderr, "mvdb: %s\n", svr.ListenAndServeSSH(sshCfg))
		}()
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)

	fmt.Printf("mvdb: serving %s; waiting for ^C to shutdown\n", addr)
	<-ch
	go func() {
		<-ch
		os.Exit(0)
	}()

	fmt.Println("mvdb: shutting down")
	return svr.Shutdown(context.Background())
}
