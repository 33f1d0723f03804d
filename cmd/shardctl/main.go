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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/shardmerge/pkg/executor"
	"github.com/daviszhen/shardmerge/pkg/merge"
	"github.com/daviszhen/shardmerge/pkg/parser"
	"github.com/daviszhen/shardmerge/pkg/rewrite"
	"github.com/daviszhen/shardmerge/pkg/route"
	"github.com/daviszhen/shardmerge/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRouteCmd()
	initMergeCmd()
}

var ctlCfg = &util.Config{}

///root cmd

var info = "shardctl explains routes and merges shard result files"
var RootCmd = &cobra.Command{
	Use:          "shardctl",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use shardctl --help or -h")
	},
}

func initDebugOptions() {
	ctlCfg.Debug.PrintRoute = viper.GetBool("debug.printRoute")
	ctlCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	ctlCfg.Debug.LogLevel = viper.GetString("debug.logLevel")
	if ctlCfg.Debug.LogLevel != "" {
		if err := util.SetLevel(ctlCfg.Debug.LogLevel); err != nil {
			util.Warn("invalid log level", zap.String("level", ctlCfg.Debug.LogLevel))
		}
	}
}

//route cmd

var routeInfo = "print the route and the shard sql of a statement"
var routeCmd = &cobra.Command{
	Use:   "route <sql>",
	Short: routeInfo,
	Long:  routeInfo,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		initDebugOptions()
		ctlCfg.Rule.Path = viper.GetString("rule.path")
		out, err := explain(ctlCfg.Rule.Path, args[0])
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func initRouteCmd() {
	RootCmd.AddCommand(routeCmd)
	routeCmd.Flags().StringVar(&ctlCfg.Rule.Path, "rule", "", "sharding rule yaml file")
	viper.BindPFlag("rule.path", routeCmd.Flags().Lookup("rule"))
}

func explain(rulePath, sql string) (string, error) {
	rule, err := route.LoadRule(rulePath)
	if err != nil {
		return "", err
	}
	q, err := parser.Parse(sql)
	if err != nil {
		return "", err
	}
	rc, err := route.NewRouter(rule).Route(q.Statement, nil)
	if err != nil {
		return "", err
	}
	tree := treeprint.NewWithRoot(sql)
	q.Print(tree.AddBranch("Query:"))
	rc.Print(tree.AddMetaBranch(rc.Engine(), "Route:"))
	// $n values are only known to a running session
	if q.ParamCount() == 0 {
		rw, err := rewrite.Rewrite(q, rc)
		if err != nil {
			return "", err
		}
		rw.Print(tree.AddBranch("Rewrite:"))
	}
	return tree.String(), nil
}

//merge cmd

var mergeInfo = "merge parquet shard result files as the statement asks"
var mergeSQL string
var mergeCmd = &cobra.Command{
	Use:   "merge <file>...",
	Short: mergeInfo,
	Long:  mergeInfo,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		initDebugOptions()
		return mergeFiles(mergeSQL, args, os.Stdout)
	},
}

func initMergeCmd() {
	RootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVar(&mergeSQL, "sql", "", "the logical statement the files answer")
	mergeCmd.MarkFlagRequired("sql")
}

type lineWriter interface {
	WriteString(s string) (int, error)
}

func mergeFiles(sql string, paths []string, out lineWriter) error {
	q, err := parser.Parse(sql)
	if err != nil {
		return err
	}
	var results []merge.QueryResult
	for _, path := range paths {
		res, err := executor.OpenParquetResult(path)
		if err != nil {
			for _, r := range results {
				r.Close()
			}
			return fmt.Errorf("open %s: %w", path, err)
		}
		results = append(results, res)
	}
	merged, err := merge.NewEngine(nil).Merge(results, q.Statement)
	if err != nil {
		return err
	}
	defer merged.Close()

	labels := make([]string, merged.ColumnCount())
	for i := range labels {
		labels[i] = merged.ColumnLabel(i)
	}
	if _, err = out.WriteString(strings.Join(labels, "\t") + "\n"); err != nil {
		return err
	}
	row := make([]string, len(labels))
	cnt := 0
	for {
		ok, err := merged.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for i := range row {
			val, err := merged.Value(i)
			if err != nil {
				return err
			}
			row[i] = val.String()
		}
		if _, err = out.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return err
		}
		cnt++
	}
	if ctlCfg.Debug.PrintResult {
		util.Info("merged", zap.Int("rows", cnt), zap.Int("files", len(paths)))
	}
	return nil
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "shardctl.toml"

// loadConfig reads shardctl.toml when present. Flags alone are enough.
func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			return
		}
	}
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
