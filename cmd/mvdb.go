package cmd

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	mvdbCmd = &cobra.Command{
		Use:               "mvdb",
		Short:             "A multi-version transactional storage engine",
		Long: "Mvdb is a paged, write ahead logged storage engine with multi-version " +
			"concurrency control and B+Tree indexes.",
		PersistentPreRunE: mvdbPreRun,
		PersistentPostRun: mvdbPostRun,
		SilenceUsage:      true,
	}

	logFile   = "mvdb-server.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "mvdb.hcl"
	noConfig   = false

	cfgVars   = map[string]*pflag.Flag{}
	cfg       = map[string]interface{}{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := mvdbCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return mvdbCmd.Execute()
}

func mvdbPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		err := loadConfig()
		if err != nil && !(os.IsNotExist(err) && !configFileSet()) {
			return fmt.Errorf("mvdb: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("mvdb: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("mvdb: %s", err)
	}
	log.SetLevel(ll)

	log.WithFields(log.Fields{
		"pid":     os.Getpid(),
		"command": cmd.Name(),
	}).Info("mvdb starting")
	return nil
}

func mvdbPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("mvdb done")

	if logWriter != nil {
		logWriter.Close()
	}
}

// configFileSet reports whether the config file was named on the command line; a missing
// default config file is not an error.
func configFileSet() bool {
	_, ok := usedFlags["config-file"]
	return ok
}

func loadConfig() error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		return err
	}

	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}

	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if flg == nil {
			continue
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		if vals, ok := val.([]interface{}); ok {
			strs := make([]string, 0, len(vals))
			for _, v := range vals {
				strs = append(strs, fmt.Sprintf("%v", v))
			}
			val = strings.Join(strs, ",")
		}
		err := flg.Value.Set(fmt.Sprintf("%v", val))
		if err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
	}

	return nil
}
