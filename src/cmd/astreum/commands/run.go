package commands

import (
	"github.com/astreum/astreum-go/src/astreum"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that starts an Astreum node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runAstreum,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runAstreum(cmd *cobra.Command, args []string) error {
	engine := astreum.NewAstreum(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the UDP socket")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port to other nodes")
	cmd.Flags().Bool("ipv6", _config.UseIPv6, "Bind on IPv6")
	cmd.Flags().DurationP("timeout", "t", _config.RequestTimeout, "Request/response timeout")
	cmd.Flags().Int("max-message-size", _config.MaxMessageSize, "Max datagram size in bytes")
	cmd.Flags().Int("workers", _config.NumWorkers, "Inbound message worker pool size")
	cmd.Flags().StringSlice("bootstrap-peers", _config.BootstrapPeers, "Addresses contacted to seed the peer route")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Int64("max-storage", _config.MaxStorageSpace, "Storage capacity in bytes")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of records in the hot cache")

	// Objects
	cmd.Flags().Int("max-recursion", _config.MaxRecursion, "Depth budget for object resolution")
	cmd.Flags().Int("object-retries", _config.ObjectRetries, "Alternate peers asked for a missing record")

	// Validation
	cmd.Flags().Bool("validation", _config.Validation, "Join the validation route")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":         _config.DataDir,
		"BindAddr":        _config.BindAddr,
		"AdvertiseAddr":   _config.AdvertiseAddr,
		"UseIPv6":         _config.UseIPv6,
		"ServiceAddr":     _config.ServiceAddr,
		"NoService":       _config.NoService,
		"MaxMessageSize":  _config.MaxMessageSize,
		"NumWorkers":      _config.NumWorkers,
		"RequestTimeout":  _config.RequestTimeout,
		"MaxRecursion":    _config.MaxRecursion,
		"ObjectRetries":   _config.ObjectRetries,
		"MaxStorageSpace": _config.MaxStorageSpace,
		"CacheSize":       _config.CacheSize,
		"Store":           _config.Store,
		"Validation":      _config.Validation,
		"BootstrapPeers":  _config.BootstrapPeers,
		"LogLevel":        _config.LogLevel,
		"Moniker":         _config.Moniker,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/astreum.toml (.json, .yaml also work)
	viper.SetConfigName("astreum")       // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
