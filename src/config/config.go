package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/linsihaku/corda/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultNodeInfoDir is the default name of the watched directory where
	// signed node record files are dropped.
	DefaultNodeInfoDir = "nodeinfo"
)

// Default configuration values.
const (
	DefaultLogLevel           = "debug"
	DefaultBindAddr           = "127.0.0.1:1337"
	DefaultServiceAddr        = "127.0.0.1:8000"
	DefaultMapServiceAddr     = "127.0.0.1:2337"
	DefaultTCPTimeout         = 1000 * time.Millisecond
	DefaultMaxPool            = 2
	DefaultStore              = false
	DefaultSubscribe          = true
	DefaultPlatformVersion    = 4
	DefaultMinPlatformVersion = 1
)

// Config contains all the configuration properties of a directory node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates log output into this file.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node listens for directory
	// sync traffic. In some cases, there may be a routable address that cannot
	// be bound. Use AdvertiseAddr to advertise a different address to support
	// this. The map service sends pushed updates to the advertised address, so
	// a non-routable address means the node only ever catches up by fetching.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to the map
	// service.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers.
	ServiceAddr string `mapstructure:"service-listen"`

	// MapService, when set, runs this process as the map service itself
	// instead of a regular node. The map service is the source of truth other
	// nodes fetch the directory from.
	MapService bool `mapstructure:"map-service"`

	// MapServiceAddr is the address:port of the map service to synchronize
	// with. Ignored when MapService is set.
	MapServiceAddr string `mapstructure:"map-addr"`

	// Subscribe determines whether the initial fetch also registers for
	// pushed updates. When false the node synchronizes exactly once.
	Subscribe bool `mapstructure:"subscribe"`

	// MaxPool controls how many connections are pooled per target by the sync
	// transport.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of sync RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Moniker defines the legal name under which this node registers in the
	// directory.
	Moniker string `mapstructure:"moniker"`

	// PlatformVersion is the platform version carried in this node's own
	// record.
	PlatformVersion int `mapstructure:"platform-version"`

	// MinPlatformVersion is the minimum platform version this node requires
	// network-wide. It must not exceed the minimum declared in the network
	// parameters; the node refuses to start otherwise.
	MinPlatformVersion int `mapstructure:"min-platform-version"`

	// TrustedKey is the hex-encoded public key of the network operator, used
	// to verify the signature on the network parameters.
	TrustedKey string `mapstructure:"trusted-key"`

	// Key is the private key of the node's main identity.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		BindAddr:           DefaultBindAddr,
		ServiceAddr:        DefaultServiceAddr,
		MapServiceAddr:     DefaultMapServiceAddr,
		Subscribe:          DefaultSubscribe,
		TCPTimeout:         DefaultTCPTimeout,
		MaxPool:            DefaultMaxPool,
		Store:              DefaultStore,
		DatabaseDir:        DefaultDatabaseDir(),
		PlatformVersion:    DefaultPlatformVersion,
		MinPlatformVersion: DefaultMinPlatformVersion,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level data directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// NodeInfoDir returns the full path of the watched node record directory.
func (c *Config) NodeInfoDir() string {
	return filepath.Join(c.DataDir, DefaultNodeInfoDir)
}

// Logger returns a formatted logrus Entry, with prefix set to "netmap".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			if _, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
				c.logger.WithField("file", c.LogFile).Info("Failed to open log file, using default stderr")
			} else {
				pathMap := lfshook.PathMap{}
				for _, level := range logrus.AllLevels {
					pathMap[level] = c.LogFile
				}
				c.logger.Hooks.Add(lfshook.NewHook(pathMap, new(logrus.TextFormatter)))
			}
		}
	}
	return c.logger.WithField("prefix", "netmap")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Netmap")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Netmap")
		} else {
			return filepath.Join(home, ".netmap")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
