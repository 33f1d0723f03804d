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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/executor"
	"github.com/daviszhen/shardmerge/pkg/metrics"
	"github.com/daviszhen/shardmerge/pkg/proxy"
	"github.com/daviszhen/shardmerge/pkg/route"
	"github.com/daviszhen/shardmerge/pkg/schema"
	"github.com/daviszhen/shardmerge/pkg/util"
)

var runCfg util.Config

func init() {
	loadConfig()
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "shardproxy.toml"

func loadConfig() {
	has := false
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			_, err := toml.DecodeFile(fpath, &runCfg)
			if err != nil {
				util.Error("toml load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			has = true
			break
		}
	}
	if !has {
		util.Error("shardproxy.toml does not exist")
		os.Exit(1)
	}
	runCfg.Normalize()
	if runCfg.Debug.LogLevel != "" {
		if err := util.SetLevel(runCfg.Debug.LogLevel); err != nil {
			util.Warn("invalid log level", zap.String("level", runCfg.Debug.LogLevel))
		}
	}
}

func main() {
	if err := run(); err != nil {
		util.Error("shardproxy exit", zap.Error(err))
		util.Sync()
		os.Exit(1)
	}
}

func run() error {
	rule, err := route.LoadRule(runCfg.Rule.Path)
	if err != nil {
		return err
	}
	exec, err := executor.Open(&runCfg)
	if err != nil {
		return err
	}
	defer exec.Close()
	for _, name := range rule.DataSourceNames() {
		if _, has := exec.DB(name); !has {
			return fmt.Errorf("data source %s of the rule is not configured", name)
		}
	}

	sch := loadSchema(rule, exec)

	if runCfg.Server.MetricsAddr != "" {
		go func() {
			err := http.ListenAndServe(runCfg.Server.MetricsAddr, metrics.Handler())
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	server, err := proxy.NewServer(&runCfg, rule, sch, exec)
	if err != nil {
		return err
	}
	return server.ListenAndServe()
}

// loadSchema reads the column catalog of the first data source. Without
// it ordering falls back to case insensitive strings for plain columns.
func loadSchema(rule *route.Rule, exec *executor.Executor) *schema.Schema {
	names := rule.DataSourceNames()
	if len(names) == 0 {
		return nil
	}
	db, _ := exec.DB(names[0])
	sch, err := schema.Load(context.Background(), db, runCfg.Rule.Schema, rule.FindLogicTable)
	if err != nil {
		util.Warn("load schema failed",
			zap.String("dataSource", names[0]),
			zap.Error(err))
		return nil
	}
	return sch
}
