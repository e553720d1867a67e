package run

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/OffBroadway/diskio/pkg/board"
	"github.com/OffBroadway/diskio/pkg/fatfs"
	"github.com/OffBroadway/diskio/pkg/flash"
)

const (
	configName = "diskio"
	envPrefix  = "DISKIO"
)

// EnvKeyReplacer maps configuration keys onto environment variable names.
var EnvKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// hostFs holds media images, flash images, config files, and the local side
// of file transfers.
var hostFs afero.Fs = afero.NewOsFs()

// Default holds the factory settings.
var Default = map[string]interface{}{
	"sd.image":        "",
	"sd.create":       int64(0),
	"flash.transport": board.TransportSim,
	"flash.image":     "flash.bin",
	"flash.chip":      flash.W25Q128.Name(),
	"flash.port":      "",
	"flash.baud":      uint(115200),
	"flash.spi.bus":   0,
	"flash.spi.cs":    0,
	"flash.spi.speed": flash.DefaultSPISpeed,
	"flash.sectors":   uint32(flash.DefaultSectorCount),
	"retry.attempts":  fatfs.DefaultRetryPolicy.Attempts,
	"retry.backoff":   fatfs.DefaultRetryPolicy.Backoff,
	"serve.api":       ":8888",
	"serve.webdav":    ":8080",
	"serve.ftp":       "",
	"serve.ftp-user":  "",
	"serve.ftp-pass":  "",
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(EnvKeyReplacer.Replace(key))
}

// Setup initializes the configuration: defaults, environment bindings, and
// the config file. An explicitly named file must exist, the default
// diskio.{yaml,toml,json} in the working directory is optional.
func Setup(file string) error {

	viper.SetFs(hostFs)
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(EnvKeyReplacer)
	viper.AutomaticEnv()

	viper.SetTypeByDefaultValue(true)
	for key, val := range Default {
		viper.SetDefault(key, val)
	}

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName(configName)
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			log.Debug("no config file, using defaults")
		} else {
			return fmt.Errorf("reading config: %w", err)
		}
	} else {
		log.WithField("file", viper.ConfigFileUsed()).Debug("config loaded")
	}

	if level := viper.GetString("log.level"); level != "" {
		setLogLevel(level)
	}
	if strings.ToLower(viper.GetString("log.format")) == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	return nil
}

func boardConfig() (board.Config, error) {
	var cfg board.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openBoard() (*board.Board, error) {
	cfg, err := boardConfig()
	if err != nil {
		return nil, err
	}
	return board.Open(cfg, hostFs)
}
