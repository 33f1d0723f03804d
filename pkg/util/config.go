// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

type ServerOptions struct {
	Addr        string `toml:"addr" mapstructure:"addr"`
	MetricsAddr string `toml:"metricsAddr" mapstructure:"metricsAddr"`
}

type DataSourceConfig struct {
	Name string `toml:"name" mapstructure:"name"`
	Dsn  string `toml:"dsn" mapstructure:"dsn"`
	// MaxOpenConns bounds the physical connections of this data source. 0 means unlimited.
	MaxOpenConns int `toml:"maxOpenConns" mapstructure:"maxOpenConns"`
}

type RuleOptions struct {
	Path string `toml:"path" mapstructure:"path"`
	// Schema is the physical schema the metadata loader reads from.
	Schema string `toml:"schema" mapstructure:"schema"`
}

type Props struct {
	MaxConnectionsPerQuery int  `toml:"maxConnectionsPerQuery" mapstructure:"maxConnectionsPerQuery"`
	SqlShow                bool `toml:"sqlShow" mapstructure:"sqlShow"`
}

type DebugOptions struct {
	PrintRoute  bool   `toml:"printRoute" mapstructure:"printRoute"`
	PrintResult bool   `toml:"printResult" mapstructure:"printResult"`
	LogLevel    string `toml:"logLevel" mapstructure:"logLevel"`
}

type Config struct {
	Server      ServerOptions      `toml:"server" mapstructure:"server"`
	DataSources []DataSourceConfig `toml:"dataSources" mapstructure:"dataSources"`
	Rule        RuleOptions        `toml:"rule" mapstructure:"rule"`
	Props       Props              `toml:"props" mapstructure:"props"`
	Debug       DebugOptions       `toml:"debug" mapstructure:"debug"`
}

const (
	defaultMaxConnectionsPerQuery = 8
	defaultAddr                   = "127.0.0.1:5432"
	defaultSchema                 = "public"
)

// Normalize fills defaults for the zero fields.
func (cfg *Config) Normalize() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultAddr
	}
	if cfg.Props.MaxConnectionsPerQuery <= 0 {
		cfg.Props.MaxConnectionsPerQuery = defaultMaxConnectionsPerQuery
	}
	if cfg.Rule.Schema == "" {
		cfg.Rule.Schema = defaultSchema
	}
}

func (cfg *Config) DataSourceNames() []string {
	names := make([]string, 0, len(cfg.DataSources))
	for _, ds := range cfg.DataSources {
		names = append(names, ds.Name)
	}
	return names
}
