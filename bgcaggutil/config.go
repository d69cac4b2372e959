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

package bgcaggutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ereefs/bgcagg"
	"github.com/lnashier/viper"
	"github.com/spf13/cast"
)

// RunConfig creates a run configuration from the options in cfg.
// Environment variables in paths and locations are expanded.
func RunConfig(cfg *viper.Viper) (*bgcagg.Config, error) {
	depths, err := depthTable(cfg)
	if err != nil {
		return nil, err
	}
	seasons, err := seasons(cfg)
	if err != nil {
		return nil, err
	}
	c := &bgcagg.Config{
		Source:       os.ExpandEnv(cfg.GetString("Source")),
		Depth:        cfg.GetFloat64("Depth"),
		DepthTable:   depths,
		TimeDim:      cfg.GetString("TimeDim"),
		DepthDim:     cfg.GetString("DepthDim"),
		Variables:    expandStringSlice(cfg.GetStringSlice("Variables")),
		LocalData:    os.ExpandEnv(cfg.GetString("LocalData")),
		OutputDir:    os.ExpandEnv(cfg.GetString("OutputDir")),
		OutputPrefix: cfg.GetString("OutputPrefix"),
		Annual: bgcagg.FullYears{
			First: cfg.GetInt("Annual.FirstYear"),
			Last:  cfg.GetInt("Annual.LastYear"),
		},
		SeasonStart:  time.Month(cfg.GetInt("Seasonal.StartMonth")),
		Seasons:      seasons,
		GridProj:     cfg.GetString("GridProj"),
		Retries:      cfg.GetInt("FetchRetries"),
		OutputBucket: os.ExpandEnv(cfg.GetString("OutputBucket")),
	}
	return c, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// depthTable returns the depth table given by the DepthTable option, or
// nil for the default table if none is given.
func depthTable(cfg *viper.Viper) (bgcagg.DepthTable, error) {
	m, err := getStringMapString("DepthTable", cfg)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	t := make(bgcagg.DepthTable, len(m))
	for k, v := range m {
		depth, err := cast.ToFloat64E(strings.TrimSpace(k))
		if err != nil {
			return nil, &bgcagg.ConfigurationError{Setting: "DepthTable",
				Msg: fmt.Sprintf("depth %q is not a number", k)}
		}
		level, err := cast.ToIntE(strings.TrimSpace(v))
		if err != nil {
			return nil, &bgcagg.ConfigurationError{Setting: "DepthTable",
				Msg: fmt.Sprintf("level %q of depth %s is not an integer", v, k)}
		}
		t[depth] = level
	}
	return t, nil
}

// seasons returns the seasons given by the Seasons option, which maps
// season names to comma separated month numbers, in order of name.
func seasons(cfg *viper.Viper) ([]bgcagg.Season, error) {
	m, err := getStringMapString("Seasons", cfg)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return bgcagg.DefaultSeasons(), nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	o := make([]bgcagg.Season, len(names))
	for i, name := range names {
		o[i].Name = name
		for _, f := range strings.Split(m[name], ",") {
			month, err := cast.ToIntE(strings.TrimSpace(f))
			if err != nil {
				return nil, &bgcagg.ConfigurationError{Setting: "Seasons",
					Msg: fmt.Sprintf("season %q: %q is not a month number", name, f)}
			}
			o[i].Months = append(o[i].Months, time.Month(month))
		}
	}
	return o, nil
}

// getStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a json object if
// it was set from a command line argument or environment variable.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		// Lists, such as month numbers in a configuration file, are
		// joined with commas.
		o := make(map[string]string, len(v))
		for k, x := range v {
			if l, ok := x.([]interface{}); ok {
				o[k] = strings.Join(cast.ToStringSlice(l), ",")
				continue
			}
			s, err := cast.ToStringE(x)
			if err != nil {
				return nil, &bgcagg.ConfigurationError{Setting: varName, Msg: err.Error()}
			}
			o[k] = s
		}
		return o, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		o := make(map[string]string)
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, &bgcagg.ConfigurationError{Setting: varName, Msg: err.Error()}
		}
		return o, nil
	default:
		return nil, &bgcagg.ConfigurationError{Setting: varName,
			Msg: fmt.Sprintf("invalid type %T", i)}
	}
}
