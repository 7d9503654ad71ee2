package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

// Load reads an export configuration from a YAML file. Environment
// variables prefixed with BATCHEXPORT_ override file values, with dots
// replaced by underscores (BATCHEXPORT_COMPRESSION_LEVEL, for example).
func Load(filePath string) (*ExportConfig, error) {
	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BATCHEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("compression", cfg.Compression)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("log_level", cfg.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeConfig,
			"failed to read config file")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeConfig,
			"failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
