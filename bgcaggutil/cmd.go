/*
Copyright © 2020 the bgcagg authors.
This file is part of bgcagg.

bgcagg is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

bgcagg is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with bgcagg.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package bgcaggutil implements the bgcagg command line interface.
package bgcaggutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"

	"github.com/ereefs/bgcagg"
	"github.com/kr/pretty"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/floats"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	pipelineFlags := []*pflag.FlagSet{runCmd.Flags(), fetchCmd.Flags(), aggregateCmd.Flags()}
	fetchFlags := []*pflag.FlagSet{runCmd.Flags(), fetchCmd.Flags()}
	aggregateFlags := []*pflag.FlagSet{runCmd.Flags(), aggregateCmd.Flags()}

	// Options are the configuration options available to bgcagg.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "verbose",
			usage: `
              verbose turns on debug logging.`,
			shorthand:  "v",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Source",
			usage: `
              Source is the location of the source dataset. It can be a
              local file, an http(s) URL of a server that supports byte
              range requests, or a blob in the form provider://bucket/key
              where provider is file, gs or s3. If empty, the local dataset
              given by LocalData must already exist.`,
			defaultVal: bgcagg.DefaultSource,
			flagsets:   fetchFlags,
		},
		{
			name: "Depth",
			usage: `
              Depth is the depth to extract in metres, negative below the
              surface. It must be one of the depths in DepthTable.`,
			shorthand:  "d",
			defaultVal: -3.0,
			flagsets:   pipelineFlags,
		},
		{
			name: "DepthTable",
			usage: `
              DepthTable maps depths to vertical level indices of the
              source grid, as a JSON object such as {"-3.0": "14"}. If
              empty, the eReefs GBR4 table is used.`,
			defaultVal: map[string]string{},
			flagsets:   pipelineFlags,
		},
		{
			name: "TimeDim",
			usage: `
              TimeDim is the name of the time dimension of the source.`,
			defaultVal: "time",
			flagsets:   pipelineFlags,
		},
		{
			name: "DepthDim",
			usage: `
              DepthDim is the name of the vertical dimension of the source.
              If empty, any name is accepted.`,
			defaultVal: "k",
			flagsets:   fetchFlags,
		},
		{
			name: "Variables",
			usage: `
              Variables are the names of the variables to extract and
              aggregate.`,
			defaultVal: bgcagg.DefaultVariables,
			flagsets:   pipelineFlags,
		},
		{
			name: "LocalData",
			usage: `
              LocalData is the path of the extracted single-depth dataset.
              "{depth}" is replaced by the depth, such as 3.0 for -3.0.
              It can contain environment variables.`,
			defaultVal: "src-data/eReefs-BGC/GBR4_H2p0_B3p1_Cq3b_Dhnd_WQ_monthly_{depth}m.nc",
			flagsets:   pipelineFlags,
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory the aggregates are written to. It
              can contain environment variables.`,
			defaultVal: "derived/eReefs-BGC",
			flagsets:   aggregateFlags,
		},
		{
			name: "OutputPrefix",
			usage: `
              OutputPrefix is the start of the name of each aggregate file.`,
			defaultVal: "GBR4_H2p0_B3p1_Cq3b_Dhnd_WQ",
			flagsets:   aggregateFlags,
		},
		{
			name: "Annual.FirstYear",
			usage: `
              Annual.FirstYear is the first whole year included in the
              all-time aggregate.`,
			defaultVal: 2011,
			flagsets:   aggregateFlags,
		},
		{
			name: "Annual.LastYear",
			usage: `
              Annual.LastYear is the last whole year included in the
              all-time aggregate.`,
			defaultVal: 2018,
			flagsets:   aggregateFlags,
		},
		{
			name: "Seasonal.StartMonth",
			usage: `
              Seasonal.StartMonth is the month (1-12) the seasonal
              aggregates start in. Time steps before the first occurrence
              of this month are left out so that the first season is
              complete.`,
			defaultVal: 5,
			flagsets:   aggregateFlags,
		},
		{
			name: "Seasons",
			usage: `
              Seasons maps season names to comma separated month numbers,
              as a JSON object. The seasons must not overlap.`,
			defaultVal: map[string]string{"wet": "11,12,1,2,3,4", "dry": "5,6,7,8,9,10"},
			flagsets:   aggregateFlags,
		},
		{
			name: "GridProj",
			usage: `
              GridProj optionally gives the projection of the source grid in
              Proj4 or WKT format. It is recorded in the aggregates when the
              source does not describe its own grid mapping.`,
			defaultVal: "",
			flagsets:   aggregateFlags,
		},
		{
			name: "FetchRetries",
			usage: `
              FetchRetries is the number of times a failed read from a
              remote source is retried, with exponential backoff.`,
			defaultVal: 0,
			flagsets:   fetchFlags,
		},
		{
			name: "OutputBucket",
			usage: `
              OutputBucket is an optional blob storage location, such as
              s3://bucket/derived, that the aggregates are uploaded to.`,
			defaultVal: "",
			flagsets:   aggregateFlags,
		},
		{
			name: "MetricsFile",
			usage: `
              MetricsFile is an optional path that run metrics are written
              to in the Prometheus text format.`,
			defaultVal: "",
			flagsets:   pipelineFlags,
		},
		{
			name: "Basemap.URL",
			usage: `
              Basemap.URL is the location of the zip archive of basemap
              shapefiles.`,
			defaultVal: DefaultBasemapURL,
			flagsets:   []*pflag.FlagSet{basemapCmd.Flags()},
		},
		{
			name: "Basemap.Dir",
			usage: `
              Basemap.Dir is the directory the basemap is extracted to.`,
			defaultVal: "src-data",
			flagsets:   []*pflag.FlagSet{basemapCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("BGCAGG")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := strings.TrimSpace(b.String())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(fetchCmd)
	Root.AddCommand(aggregateCmd)
	Root.AddCommand(basemapCmd)
	Root.AddCommand(inspectCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("bgcagg: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "bgcagg",
	Short: "Depth-sliced seasonal aggregates of eReefs biogeochemistry.",
	Long: `bgcagg extracts a single depth of the eReefs GBR4 biogeochemistry
monthly time series into a local NetCDF file, one variable at a time, and
reduces it to all-time and seasonal (wet and dry) mean fields.
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
by setting environment variables in the format 'BGCAGG_var' where 'var' is the
name of the variable to be set (with '.' replaced by '_'), or in a .env file
in the working directory. Paths are additionally allowed to contain environment
variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
	SilenceUsage:      true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of bgcagg.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bgcagg v%s\n", bgcagg.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract a depth and write its aggregates.",
	Long: `run extracts the configured depth of each variable from the source
into the local dataset, skipping variables that are already present, and
then writes the all-time and seasonal aggregates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		c, m, err := setup()
		if err != nil {
			return err
		}
		return finish(m, bgcagg.Run(ctx, c))
	},
	DisableAutoGenTag: true,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Extract a depth into the local dataset.",
	Long: `fetch extracts the configured depth of each variable from the source
into the local dataset. Variables already present are skipped, so an
interrupted fetch can be resumed by running it again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		c, m, err := setup()
		if err != nil {
			return err
		}
		ds, err := bgcagg.Fetch(ctx, c)
		if err != nil {
			return finish(m, err)
		}
		c.Log.WithFields(logrus.Fields{"path": ds.Path, "variables": len(ds.Variables())}).
			Info("local dataset ready")
		return finish(m, ds.Close())
	},
	DisableAutoGenTag: true,
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Write aggregates of the local dataset.",
	Long: `aggregate writes the all-time and seasonal aggregates of an existing
local dataset without contacting the source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		c, m, err := setup()
		if err != nil {
			return err
		}
		c.Source = ""
		return finish(m, bgcagg.Run(ctx, c))
	},
	DisableAutoGenTag: true,
}

var basemapCmd = &cobra.Command{
	Use:   "basemap",
	Short: "Download the basemap shapefiles.",
	Long: `basemap downloads and extracts the coastline and reef boundary
shapefiles used as a basemap when plotting the aggregates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		log := logger()
		url, dir := Cfg.GetString("Basemap.URL"), os.ExpandEnv(Cfg.GetString("Basemap.Dir"))
		log.WithFields(logrus.Fields{"url": url, "dir": dir}).Info("downloading basemap")
		shps, err := DownloadAndUnzip(ctx, nil, url, dir, bgcagg.NewLogObserver(log))
		if err != nil {
			return err
		}
		for _, s := range shps {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, fields %s\n",
				s.Path, s.Records, strings.Join(s.Fields, ", "))
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect file...",
	Short: "Summarize local datasets and aggregates.",
	Long: `inspect prints a summary of each of the given local datasets or
aggregate files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := inspect(cmd, path); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// logger returns a logger at the level requested by the verbose option.
func logger() *logrus.Logger {
	log := logrus.New()
	if Cfg.GetBool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// setup creates the run configuration and its logger and observers.
func setup() (*bgcagg.Config, *bgcagg.Metrics, error) {
	log := logger()
	c, err := RunConfig(Cfg)
	if err != nil {
		return nil, nil, err
	}
	c.Log = log
	obs := bgcagg.Observers{bgcagg.NewLogObserver(log)}
	var m *bgcagg.Metrics
	if Cfg.GetString("MetricsFile") != "" {
		m = bgcagg.NewMetrics()
		obs = append(obs, m)
	}
	c.Observer = obs
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	show := *c
	show.Log, show.Observer = nil, nil
	log.Debugf("configuration: %s", pretty.Sprint(show))
	return c, m, nil
}

// finish writes the metrics file, if one was requested, and returns
// err.
func finish(m *bgcagg.Metrics, err error) error {
	if m == nil {
		return err
	}
	if merr := m.WriteFile(os.ExpandEnv(Cfg.GetString("MetricsFile"))); merr != nil && err == nil {
		return fmt.Errorf("bgcagg: writing metrics: %v", merr)
	}
	return err
}

// inspect prints a summary of the dataset or aggregate at path.
func inspect(cmd *cobra.Command, path string) error {
	w := cmd.OutOrStdout()
	if r, err := bgcagg.ReadResult(path); err == nil {
		fmt.Fprintf(w, "%s: aggregate %q of %d time steps, %s to %s, grid %dx%d\n", path, r.Group,
			r.Samples, r.Start.Format("Jan 2006"), r.End.Format("Jan 2006"), r.Grid.NY, r.Grid.NX)
		for _, m := range r.Means {
			var valid []float64
			for _, x := range m.Data.Elements {
				if !math.IsNaN(x) {
					valid = append(valid, x)
				}
			}
			if len(valid) == 0 {
				fmt.Fprintf(w, "  %-12s %-6s no valid cells\n", m.Name, m.Type)
				continue
			}
			fmt.Fprintf(w, "  %-12s %-6s %d valid cells, min %g, max %g\n", m.Name, m.Type,
				len(valid), floats.Min(valid), floats.Max(valid))
		}
		return nil
	}
	ds, err := bgcagg.OpenDataset(path)
	if err != nil {
		return fmt.Errorf("bgcagg: %s is neither an aggregate nor a local dataset: %v", path, err)
	}
	defer ds.Close()
	fmt.Fprintf(w, "%s: local dataset at depth %v (level %d), %d time steps, grid %dx%d\n",
		path, ds.Depth, ds.Level, ds.Grid.NT, ds.Grid.NY, ds.Grid.NX)
	if len(ds.Time) > 0 {
		fmt.Fprintf(w, "  time: %s to %s\n", ds.Time[0].Format("Jan 2006"),
			ds.Time[len(ds.Time)-1].Format("Jan 2006"))
	}
	fmt.Fprintf(w, "  variables: %s\n", strings.Join(ds.Variables(), " "))
	return nil
}
