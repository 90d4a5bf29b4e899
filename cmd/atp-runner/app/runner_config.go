// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/wooveep/atp-runner/internal/hostconn"
)

// HostConfig is one entry of RunnerConfig.Hosts.
type HostConfig struct {
	ID   string            `mapstructure:"id"`
	Host string            `mapstructure:"host"`
	URI  string            `mapstructure:"uri"`
	Tags []string          `mapstructure:"tags"`
	Meta map[string]string `mapstructure:"metadata"`
}

func (h HostConfig) toHostInfo() hostconn.HostInfo {
	return hostconn.HostInfo{ID: h.ID, Host: h.Host, URI: h.URI, Tags: h.Tags, Metadata: h.Meta}
}

// RunnerConfig is the optional file-config layer the teacher's
// flag-only Options has no equivalent for: a multi-host test platform
// needs a place to list the hosts the pool manages, since there is no
// longer one single global libvirt connection to dial. Grounded on
// teranos-QNTX's am.LoadFromFile (viper.New + SetConfigFile +
// Unmarshal), per SPEC_FULL §1.
type RunnerConfig struct {
	Hosts []HostConfig `mapstructure:"hosts"`
}

// loadRunnerConfig reads path (any format viper supports by extension:
// yaml/json/toml) into a RunnerConfig. An empty path is not an error;
// it just means no hosts are statically configured (they must then be
// added some other way before AddHost can do useful work).
func loadRunnerConfig(path string) (RunnerConfig, error) {
	var cfg RunnerConfig
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read runner config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal runner config %s: %w", path, err)
	}
	return cfg, nil
}
