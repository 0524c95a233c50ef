package commands

import (
	"github.com/linsihaku/corda/src/corda"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a directory node or map service
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runNode(cmd *cobra.Command, args []string) error {
	engine := corda.NewCorda(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	defer engine.Shutdown()

	return engine.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Duplicate log output into this file")
	cmd.Flags().String("moniker", _config.Moniker, "Legal name for this node's directory record")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for directory sync traffic")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for directory sync traffic")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Map service
	cmd.Flags().Bool("map-service", _config.MapService, "Run as the map service instead of a regular node")
	cmd.Flags().StringP("map-addr", "m", _config.MapServiceAddr, "IP:Port of the map service to synchronize with")
	cmd.Flags().Bool("subscribe", _config.Subscribe, "Register for pushed updates")
	cmd.Flags().String("trusted-key", _config.TrustedKey, "Hex public key of the network operator")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Versions
	cmd.Flags().Int("platform-version", _config.PlatformVersion, "Platform version carried in this node's record")
	cmd.Flags().Int("min-platform-version", _config.MinPlatformVersion, "Minimum platform version required network-wide")
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
		"DataDir":            _config.DataDir,
		"BindAddr":           _config.BindAddr,
		"AdvertiseAddr":      _config.AdvertiseAddr,
		"ServiceAddr":        _config.ServiceAddr,
		"MapService":         _config.MapService,
		"MapServiceAddr":     _config.MapServiceAddr,
		"Subscribe":          _config.Subscribe,
		"MaxPool":            _config.MaxPool,
		"Store":              _config.Store,
		"LogLevel":           _config.LogLevel,
		"Moniker":            _config.Moniker,
		"TCPTimeout":         _config.TCPTimeout,
		"PlatformVersion":    _config.PlatformVersion,
		"MinPlatformVersion": _config.MinPlatformVersion,
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

	// look for config file in [datadir]/netmap.toml (.json, .yaml also work)
	viper.SetConfigName("netmap")        // name of config file (without extension)
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
