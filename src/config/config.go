package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/astreum/astreum-go/src/common"
	"github.com/astreum/astreum-go/src/machine"
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

	// DefaultPeersFile is the default name of the file seeding the peer route
	// on startup.
	DefaultPeersFile = "peers.json"

	// DefaultLogFile is the default name of the file receiving a copy of the
	// log output.
	DefaultLogFile = "astreum.log"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:7373"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultUseIPv6         = false
	DefaultMaxMessageSize  = 65536
	DefaultNumWorkers      = 8
	DefaultRequestTimeout  = 1000 * time.Millisecond
	DefaultMaxRecursion    = 64
	DefaultObjectRetries   = 3
	DefaultMaxStorageSpace = int64(1) << 30 // 1 GiB
	DefaultCacheSize       = 10000
	DefaultStore           = false
	DefaultValidation      = false
)

// Config contains all the configuration properties of an Astreum node.
type Config struct {
	// DataDir is the top-level directory containing Astreum configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port the UDP socket binds to. In some
	// cases, there may be a routable address that cannot be bound. Use
	// AdvertiseAddr to advertise a different address to support this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// UseIPv6 binds the UDP socket on an IPv6 address.
	UseIPv6 bool `mapstructure:"ipv6"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxMessageSize caps the size of a single datagram, inbound and
	// outbound. Larger payloads travel as object graphs, one record per
	// message.
	MaxMessageSize int `mapstructure:"max-message-size"`

	// NumWorkers is the size of the pool decoding and dispatching inbound
	// messages.
	NumWorkers int `mapstructure:"workers"`

	// RequestTimeout bounds a single request/response exchange with a peer.
	RequestTimeout time.Duration `mapstructure:"timeout"`

	// MaxRecursion is the depth budget for object resolution: the maximum
	// number of levels of an object graph that may be materialized.
	MaxRecursion int `mapstructure:"max-recursion"`

	// ObjectRetries is the number of alternate peers asked for a record after
	// the closest one failed to serve it.
	ObjectRetries int `mapstructure:"object-retries"`

	// MaxStorageSpace is the storage capacity in bytes. Once reached, the
	// least recently accessed records are evicted to make room.
	MaxStorageSpace int64 `mapstructure:"max-storage"`

	// CacheSize is the max number of records in the hot read cache fronting
	// persistent storage.
	CacheSize int `mapstructure:"cache-size"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Validation makes the node join the validation route in addition to the
	// peer route.
	Validation bool `mapstructure:"validation"`

	// BootstrapPeers are address:port entries contacted on startup to seed
	// the peer route, in addition to the peers file.
	BootstrapPeers []string `mapstructure:"bootstrap-peers"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Machine consumes the object graphs the node resolves.
	Machine machine.Machine

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		BindAddr:        DefaultBindAddr,
		ServiceAddr:     DefaultServiceAddr,
		UseIPv6:         DefaultUseIPv6,
		MaxMessageSize:  DefaultMaxMessageSize,
		NumWorkers:      DefaultNumWorkers,
		RequestTimeout:  DefaultRequestTimeout,
		MaxRecursion:    DefaultMaxRecursion,
		ObjectRetries:   DefaultObjectRetries,
		MaxStorageSpace: DefaultMaxStorageSpace,
		CacheSize:       DefaultCacheSize,
		Store:           DefaultStore,
		DatabaseDir:     DefaultDatabaseDir(),
		Validation:      DefaultValidation,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	logger := common.NewTestLogger(t)
	logger.Level = level
	config.logger = logger
	return config
}

// SetDataDir sets the top-level Astreum directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
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

// PeersFile returns the full path of the file seeding the peer route.
func (c *Config) PeersFile() string {
	return filepath.Join(c.DataDir, DefaultPeersFile)
}

// LogFile returns the full path of the file receiving a copy of the log.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, DefaultLogFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "astreum". The
// first call also hooks a copy of the output into the log file in the data
// directory, when that file can be opened.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		pathMap := lfshook.PathMap{}
		if _, err := os.OpenFile(c.LogFile(), os.O_CREATE|os.O_WRONLY, 0666); err == nil {
			for _, lvl := range logrus.AllLevels {
				if lvl <= c.logger.Level {
					pathMap[lvl] = c.LogFile()
				}
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "astreum")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Astreum
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Astreum")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Astreum")
		} else {
			return filepath.Join(home, ".astreum")
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
