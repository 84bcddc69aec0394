// Package config locates the crawler's configuration file on disk.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// SearchPaths are checked in order for a file named config.{yaml,yml,json,toml}.
var SearchPaths = []string{
	".",
	"/etc/grqaser-crawler/",
	"$HOME/.grqaser-crawler",
}

// FindConfigFile returns explicit when it is set, otherwise the first config
// file found on SearchPaths. An empty result means defaults and environment
// variables alone configure the run.
func FindConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	v := viper.New()
	v.SetConfigName("config")
	for _, p := range SearchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
