package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bitdabbler/orientlog"
)

// passwordEnv names the environment variable that supplies the store
// password, so it need not appear in argv or the config file.
const passwordEnv = "ORIENTLOG_PASSWORD"

const defaultCloseTimeout = 30 * time.Second

// duration is a time.Duration that decodes from strings such as "5s" in both
// YAML and JSON config files.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// config holds everything the command needs. Values are layered: defaults,
// then the config file, then ORIENTLOG_PASSWORD, then explicitly set flags.
type config struct {
	Server       string   `yaml:"server" json:"server"`
	Database     string   `yaml:"database" json:"database"`
	Username     string   `yaml:"username" json:"username"`
	Password     string   `yaml:"password" json:"password"`
	Class        string   `yaml:"class" json:"class"`
	BatchSize    int      `yaml:"batch_size" json:"batch_size"`
	Period       duration `yaml:"period" json:"period"`
	QueueLimit   int      `yaml:"queue_limit" json:"queue_limit"`
	MaxRequeues  int      `yaml:"max_requeues" json:"max_requeues"`
	Timeout      duration `yaml:"timeout" json:"timeout"`
	CloseTimeout duration `yaml:"close_timeout" json:"close_timeout"`
	Compress     bool     `yaml:"compress" json:"compress"`
	Input        string   `yaml:"input" json:"input"`
	Dump         bool     `yaml:"dump" json:"dump"`
	Verbose      bool     `yaml:"verbose" json:"verbose"`
}

func defaultConfig() *config {
	so := orientlog.DefaultSinkOptions()
	co := orientlog.DefaultClientOptions()
	return &config{
		Class:        so.ClassName,
		BatchSize:    so.BatchSizeLimit,
		Period:       duration(so.Period),
		QueueLimit:   so.QueueLimit,
		MaxRequeues:  so.MaxRequeues,
		Timeout:      duration(co.RequestTimeout),
		CloseTimeout: duration(defaultCloseTimeout),
		Input:        "-",
	}
}

// newFlagSet binds every config field to a flag writing into fv.
func newFlagSet(fv *config, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("orientlog-ship", pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "YAML, or JSON with comments (.json/.jsonc), config file")
	fs.StringVar(&fv.Server, "server", fv.Server, "base URL of the document store")
	fs.StringVar(&fv.Database, "database", fv.Database, "database to write to")
	fs.StringVarP(&fv.Username, "username", "u", fv.Username, "store username")
	fs.StringVar(&fv.Password, "password", fv.Password, "store password (prefer "+passwordEnv+")")
	fs.StringVar(&fv.Class, "class", fv.Class, "document class of the shipped records")
	fs.IntVar(&fv.BatchSize, "batch-size", fv.BatchSize, "maximum number of records per request")
	fs.DurationVar((*time.Duration)(&fv.Period), "period", time.Duration(fv.Period), "flush period")
	fs.IntVar(&fv.QueueLimit, "queue-limit", fv.QueueLimit, "maximum number of buffered events (negative for unbounded)")
	fs.IntVar(&fv.MaxRequeues, "max-requeues", fv.MaxRequeues, "times a failed batch is retried before it is dropped")
	fs.DurationVar((*time.Duration)(&fv.Timeout), "timeout", time.Duration(fv.Timeout), "per-request timeout")
	fs.DurationVar((*time.Duration)(&fv.CloseTimeout), "close-timeout", time.Duration(fv.CloseTimeout), "how long to wait for the final flush")
	fs.BoolVar(&fv.Compress, "compress", fv.Compress, "gzip request bodies")
	fs.StringVarP(&fv.Input, "input", "i", fv.Input, `file to read log lines from ("-" for stdin)`)
	fs.BoolVar(&fv.Dump, "dump", fv.Dump, "write events to stdout as msgpack instead of shipping them")
	fs.BoolVarP(&fv.Verbose, "verbose", "v", fv.Verbose, "log diagnostics from the shipping stack")
	return fs
}

// loadConfig parses args and layers the result over the config file and the
// environment.
func loadConfig(args []string, getenv func(string) string, usage io.Writer) (*config, error) {
	fv := defaultConfig()
	var path string
	fs := newFlagSet(fv, &path)
	fs.SetOutput(usage)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg := defaultConfig()
	if len(path) > 0 {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}
	if pw := getenv(passwordEnv); len(pw) > 0 {
		cfg.Password = pw
	}
	fs.Visit(func(f *pflag.Flag) {
		cfg.override(f.Name, fv)
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the file at path into c. Unknown keys are rejected.
func (c *config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		return dec.Decode(c)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
}

// override copies the field bound to the named flag from fv.
func (c *config) override(flag string, fv *config) {
	switch flag {
	case "server":
		c.Server = fv.Server
	case "database":
		c.Database = fv.Database
	case "username":
		c.Username = fv.Username
	case "password":
		c.Password = fv.Password
	case "class":
		c.Class = fv.Class
	case "batch-size":
		c.BatchSize = fv.BatchSize
	case "period":
		c.Period = fv.Period
	case "queue-limit":
		c.QueueLimit = fv.QueueLimit
	case "max-requeues":
		c.MaxRequeues = fv.MaxRequeues
	case "timeout":
		c.Timeout = fv.Timeout
	case "close-timeout":
		c.CloseTimeout = fv.CloseTimeout
	case "compress":
		c.Compress = fv.Compress
	case "input":
		c.Input = fv.Input
	case "dump":
		c.Dump = fv.Dump
	case "verbose":
		c.Verbose = fv.Verbose
	}
}

func (c *config) validate() error {
	if c.Dump {
		return nil
	}
	if len(c.Server) == 0 {
		return errors.New("a server URL is required (--server)")
	}
	if len(c.Database) == 0 {
		return errors.New("a database is required (--database)")
	}
	return nil
}

func (c *config) sinkOptions() *orientlog.SinkOptions {
	opts := orientlog.DefaultSinkOptions()
	opts.ClassName = c.Class
	opts.BatchSizeLimit = c.BatchSize
	opts.Period = time.Duration(c.Period)
	opts.QueueLimit = c.QueueLimit
	opts.MaxRequeues = c.MaxRequeues
	opts.Verbose = c.Verbose
	return opts
}

func (c *config) clientOptions() *orientlog.ClientOptions {
	opts := orientlog.DefaultClientOptions()
	opts.Username = c.Username
	opts.Password = c.Password
	opts.RequestTimeout = time.Duration(c.Timeout)
	opts.Compress = c.Compress
	opts.UserAgent = "orientlog-ship"
	opts.Verbose = c.Verbose
	return opts
}
