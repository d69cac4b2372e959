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

package bgcagg

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/ereefs/bgcagg/cloud"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// DefaultSource is the eReefs GBR4 BGC monthly aggregate, served by the
// AIMS THREDDS server.
const DefaultSource = "https://thredds.ereefs.aims.gov.au/thredds/fileServer/GBR4_H2p0_B3p1_Cq3b_Dhnd/monthly.nc"

// DefaultVariables are the nutrient and phytoplankton variables of the
// eReefs BGC model.
var DefaultVariables = []string{
	"TN", "TP", "DIN", "DIP", "Chl_a_sum", "NO3", "NH4", "DOR_N", "DOR_P",
	"PhyL_N", "PhyL_NR", "PhyS_N", "PhyS_NR", "Tricho_N", "Tricho_NR",
}

// depthPlaceholder is replaced by the depth label in Config.LocalData.
const depthPlaceholder = "{depth}"

// Config holds the settings of a run.
type Config struct {
	// Source is the location of the source dataset: a local path, an
	// http(s) URL or a blob. If empty, the local dataset must already
	// exist.
	Source string

	// Depth is the depth to extract, in metres below the surface
	// (negative). It must be a key of DepthTable.
	Depth      float64
	DepthTable DepthTable

	TimeDim, DepthDim string

	Variables []string

	// LocalData is the path of the materialized dataset. The text
	// "{depth}" is replaced by the depth label.
	LocalData string

	// OutputDir and OutputPrefix determine where the aggregates are
	// written.
	OutputDir, OutputPrefix string

	// Annual selects the whole years of the all-time aggregate.
	Annual FullYears

	// SeasonStart is the month the seasonal aggregates begin in.
	SeasonStart time.Month
	Seasons     []Season

	// GridProj optionally gives the projection of the grid. It is
	// recorded in the outputs when the source has no grid mapping.
	GridProj string

	// Retries is the number of times a failed remote read is retried.
	Retries int

	// OutputBucket is an optional blob prefix, such as
	// 's3://bucket/derived', that outputs are uploaded to.
	OutputBucket string

	// RunID identifies the run in logs and outputs. If empty, a random
	// one is generated.
	RunID string

	Observer   Observer
	Log        logrus.FieldLogger
	HTTPClient *http.Client
}

// Validate checks the settings that can be checked without reading any
// data, and fills in defaults for unset optional ones.
func (c *Config) Validate() error {
	if c.DepthTable == nil {
		c.DepthTable = GBR4Depths
	}
	if _, err := c.DepthTable.Resolve(c.Depth); err != nil {
		return err
	}
	if c.TimeDim == "" {
		c.TimeDim = "time"
	}
	if len(c.Variables) == 0 {
		return &ConfigurationError{Setting: "variables", Msg: "no variables requested"}
	}
	if c.LocalData == "" {
		return &ConfigurationError{Setting: "local data", Msg: "no path given"}
	}
	if c.OutputDir == "" {
		return &ConfigurationError{Setting: "output directory", Msg: "no path given"}
	}
	if c.OutputPrefix == "" {
		return &ConfigurationError{Setting: "output prefix", Msg: "no prefix given"}
	}
	if c.Annual.First > c.Annual.Last {
		return &ConfigurationError{Setting: "year range",
			Msg: fmt.Sprintf("first year %d is after last year %d", c.Annual.First, c.Annual.Last)}
	}
	if c.SeasonStart < time.January || c.SeasonStart > time.December {
		return &ConfigurationError{Setting: "start month",
			Msg: fmt.Sprintf("%d is not a calendar month", c.SeasonStart)}
	}
	if c.Seasons == nil {
		c.Seasons = DefaultSeasons()
	}
	if err := ValidateSeasons(c.Seasons); err != nil {
		return err
	}
	if c.GridProj != "" {
		if _, err := proj.Parse(c.GridProj); err != nil {
			return &ConfigurationError{Setting: "grid projection", Msg: err.Error()}
		}
	}
	if c.Retries < 0 {
		return &ConfigurationError{Setting: "retries", Msg: "must not be negative"}
	}
	if c.RunID == "" {
		c.RunID = uuid.New().String()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.Observer == nil {
		c.Observer = NewLogObserver(c.Log)
	}
	return nil
}

// LocalPath returns the path of the materialized dataset.
func (c *Config) LocalPath() string {
	return strings.Replace(c.LocalData, depthPlaceholder, DepthLabel(c.Depth), -1)
}

// OutputName returns the file name of the aggregate of group, such as
// "GBR4_H2p0_B3p1_Cq3b_Dhnd_WQ_dry_3.0m_May2011-Oct2018.nc".
func OutputName(prefix, group string, depth float64, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%sm_%s-%s.nc", prefix, group, DepthLabel(depth),
		start.Format("Jan2006"), end.Format("Jan2006"))
}

func (c *Config) log() logrus.FieldLogger {
	return c.Log.WithField("run", c.RunID)
}

// Fetch materializes the configured variables at the configured depth
// and returns the local dataset. If no source is configured, the
// existing local dataset is opened instead.
func Fetch(ctx context.Context, c *Config) (*Dataset, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	level, _ := c.DepthTable.Resolve(c.Depth)
	path := c.LocalPath()
	log := c.log().WithField("path", path)
	if c.Source == "" {
		if _, err := os.Stat(path); err != nil {
			return nil, &ConfigurationError{Setting: "source",
				Msg: fmt.Sprintf("no source given and local data is unavailable: %v", err)}
		}
		log.Info("no source given, using local data")
		return OpenDataset(path)
	}
	src, err := OpenSource(ctx, c.Source, SourceOptions{
		Retries:  c.Retries,
		Client:   c.HTTPClient,
		Observer: c.Observer,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()
	log.WithFields(logrus.Fields{
		"source": c.Source,
		"depth":  c.Depth,
		"level":  level,
	}).Info("materializing")
	m := &Materializer{
		Path:      path,
		Variables: c.Variables,
		Level:     level,
		Depth:     c.Depth,
		TimeDim:   c.TimeDim,
		DepthDim:  c.DepthDim,
		Source:    c.Source,
		Observer:  c.Observer,
		Log:       log,
	}
	return m.Materialize(ctx, src)
}

// AggregateAllTime writes the mean of each variable over the whole years
// selected by c.Annual, and returns the path of the output.
func AggregateAllTime(ctx context.Context, c *Config, ds *Dataset) (string, error) {
	const group = "all"
	if err := c.Validate(); err != nil {
		return "", err
	}
	r, err := SelectWindow(ds.Time, c.Annual, group)
	if err != nil {
		return "", err
	}
	c.log().WithFields(logrus.Fields{"group": group, "window": c.Annual.String(),
		"samples": r.Len()}).Info("aggregating")
	res, err := Aggregate(ctx, ds, c.Variables, r.Indices(), group)
	if err != nil {
		return "", err
	}
	return c.write(ctx, res)
}

// AggregateSeasonal writes the mean of each variable over each season,
// starting from the first time step in c.SeasonStart, and returns the
// paths of the outputs in the order of c.Seasons. A season with no time
// steps stops the run with an EmptyRangeError; outputs written before it
// are kept.
func AggregateSeasonal(ctx context.Context, c *Config, ds *Dataset) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	w := DropLeadingPartial{StartMonth: c.SeasonStart}
	r, err := SelectWindow(ds.Time, w, "seasonal")
	if err != nil {
		return nil, err
	}
	classes, err := Classify(ds.Time[r.Start:r.End], c.Seasons)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, s := range c.Seasons {
		idx := Offset(classes[s.Name], r.Start)
		c.log().WithFields(logrus.Fields{"group": s.Name, "window": w.String(),
			"samples": len(idx)}).Info("aggregating")
		res, err := Aggregate(ctx, ds, c.Variables, idx, s.Name)
		if err != nil {
			return paths, err
		}
		path, err := c.write(ctx, res)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// write writes res to the output directory and uploads it if an output
// bucket is configured.
func (c *Config) write(ctx context.Context, res *Result) (string, error) {
	res.Run = c.RunID
	if c.GridProj != "" && !hasGridMapping(res) {
		g := *res.Grid
		g.Global = g.Global.Set("crs_proj4", c.GridProj)
		res.Grid = &g
	}
	path := filepath.Join(c.OutputDir, OutputName(c.OutputPrefix, res.Group, c.Depth, res.Start, res.End))
	if err := WriteResult(res, path); err != nil {
		return "", err
	}
	c.Observer.GroupWritten(res.Group, path)
	if c.OutputBucket == "" {
		return path, nil
	}
	dest := strings.TrimSuffix(c.OutputBucket, "/") + "/" + filepath.Base(path)
	if err := cloud.Upload(ctx, path, dest); err != nil {
		return path, &WriteError{Path: dest, Err: err}
	}
	c.log().WithFields(logrus.Fields{"group": res.Group, "path": dest}).Info("uploaded aggregate")
	return path, nil
}

func hasGridMapping(res *Result) bool {
	for _, m := range res.Means {
		if m.Attrs.String("grid_mapping") != "" {
			return true
		}
	}
	return false
}

// Run materializes the dataset and writes the all-time and seasonal
// aggregates.
func Run(ctx context.Context, c *Config) error {
	start := time.Now()
	ds, err := Fetch(ctx, c)
	if err != nil {
		return err
	}
	defer ds.Close()
	log := c.log()
	if len(ds.Time) == 0 {
		return &ConfigurationError{Setting: "local data", Msg: ds.Path + " has no time steps"}
	}
	log.WithFields(logrus.Fields{
		"time_steps": ds.Grid.NT,
		"first":      ds.Time[0].Format("2006-01"),
		"last":       ds.Time[len(ds.Time)-1].Format("2006-01"),
	}).Info("local dataset ready")
	logExtent(log, ds.Grid)

	if _, err := AggregateAllTime(ctx, c, ds); err != nil {
		return err
	}
	if _, err := AggregateSeasonal(ctx, c, ds); err != nil {
		return err
	}
	log.WithField("elapsed", time.Since(start).Round(time.Second)).Info("run complete")
	return nil
}

// logExtent logs the range of the latitude and longitude fields of g.
func logExtent(log logrus.FieldLogger, g *Grid) {
	for _, f := range g.Fields {
		switch f.Attrs.String("standard_name") {
		case "latitude", "longitude":
		default:
			continue
		}
		var v []float64
		for _, x := range float64s(f.Values) {
			if !math.IsNaN(x) && !math.IsInf(x, 0) && math.Abs(x) <= 360 {
				v = append(v, x)
			}
		}
		if len(v) == 0 {
			continue
		}
		log.WithFields(logrus.Fields{
			"field": f.Name,
			"min":   floats.Min(v),
			"max":   floats.Max(v),
		}).Debug("grid extent")
	}
}
