// Copyright 2024 The Gaia Authors
// This file is part of Gaia.
//
// Gaia is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gaia is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Gaia. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the one client-observable configuration item the
// core has (§6): the path to a storage-cluster descriptor file mapping
// container ranges to servers.
package config

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gaiadb/gaia"
)

// EnvVar is the environment variable that overrides DefaultPath.
const EnvVar = "GAIACONFIG"

// DefaultPath is used when EnvVar is unset.
const DefaultPath = "/etc/gaia/cluster.yaml"

// ServerRange maps a half-open range of container ids, [CidLow, CidHigh), to
// the server address that owns them.
type ServerRange struct {
	CidLow  gaia.Cid `yaml:"cidLow"`
	CidHigh gaia.Cid `yaml:"cidHigh"`
	Server  string   `yaml:"server"`
}

// ClusterConfig is the parsed storage-cluster descriptor: an ordered list
// of container-range-to-server mappings plus the rowid-allocation server
// (§4.6) for persistent containers.
type ClusterConfig struct {
	Ranges      []ServerRange `yaml:"ranges"`
	RowidServer string        `yaml:"rowidServer"`
}

// Load reads and parses the descriptor at path.
func Load(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading cluster descriptor %q", path)
	}
	var cfg ClusterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing cluster descriptor %q", path)
	}
	sort.Slice(cfg.Ranges, func(i, j int) bool { return cfg.Ranges[i].CidLow < cfg.Ranges[j].CidLow })
	return &cfg, nil
}

// LoadDefault resolves the descriptor path from EnvVar (falling back to
// DefaultPath) and loads it.
func LoadDefault() (*ClusterConfig, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// ServerFor returns the server address owning cid, or "" if no range
// covers it.
func (c *ClusterConfig) ServerFor(cid gaia.Cid) string {
	// Ranges are sorted by CidLow; a linear scan is fine here, config files
	// describe dozens of ranges, not millions.
	for _, r := range c.Ranges {
		if cid >= r.CidLow && cid < r.CidHigh {
			return r.Server
		}
	}
	return ""
}
