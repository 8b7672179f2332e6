// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/zapstore/pkg/logger"

	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges configFileName from the config search path into
// viper and binds ZAPSTORE_* style env vars. A missing file is only an error
// when required is set.
func LoadConfiguration(configFileName string, required bool) (bool, error) {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.zapstore")
	viper.AddConfigPath("/usr/local/etc/zapstore/")
	viper.AddConfigPath("/etc/zapstore/")
	viper.SetEnvPrefix(configFileName)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				return false, fmt.Errorf("config file not found: %s", configFileName)
			}
			logger.Debug().Msgf("Config file not found: %s", configFileName)
			return false, nil
		}
		return false, fmt.Errorf("load config file %s: %w", configFileName, err)
	}
	logger.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())

	return true, nil
}
