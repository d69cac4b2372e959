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
	"fmt"
	"time"
)

// Season is a named set of calendar months. A season may wrap the year
// boundary.
type Season struct {
	Name   string
	Months []time.Month
}

// Contains returns whether m is one of the season's months.
func (s Season) Contains(m time.Month) bool {
	for _, sm := range s.Months {
		if sm == m {
			return true
		}
	}
	return false
}

// The tropical wet and dry seasons of the Great Barrier Reef.
var (
	Wet = Season{Name: "wet", Months: []time.Month{
		time.November, time.December, time.January,
		time.February, time.March, time.April}}
	Dry = Season{Name: "dry", Months: []time.Month{
		time.May, time.June, time.July,
		time.August, time.September, time.October}}
)

// DefaultSeasons returns the wet and dry seasons.
func DefaultSeasons() []Season { return []Season{Wet, Dry} }

// ValidateSeasons checks that every season has a unique name and that
// the month sets are valid and pairwise disjoint. The seasons do not
// need to cover the whole year.
func ValidateSeasons(seasons []Season) error {
	if len(seasons) == 0 {
		return &ConfigurationError{Setting: "seasons", Msg: "no seasons are defined"}
	}
	owner := make(map[time.Month]string)
	names := make(map[string]bool)
	for _, s := range seasons {
		if s.Name == "" {
			return &ConfigurationError{Setting: "seasons", Msg: "season with no name"}
		}
		if names[s.Name] {
			return &ConfigurationError{Setting: "seasons",
				Msg: fmt.Sprintf("season %q is defined more than once", s.Name)}
		}
		names[s.Name] = true
		if len(s.Months) == 0 {
			return &ConfigurationError{Setting: "seasons",
				Msg: fmt.Sprintf("season %q has no months", s.Name)}
		}
		for _, m := range s.Months {
			if m < time.January || m > time.December {
				return &ConfigurationError{Setting: "seasons",
					Msg: fmt.Sprintf("season %q: %d is not a calendar month", s.Name, m)}
			}
			if o, ok := owner[m]; ok {
				return &ConfigurationError{Setting: "seasons",
					Msg: fmt.Sprintf("%s is in both %q and %q", m, o, s.Name)}
			}
			owner[m] = s.Name
		}
	}
	return nil
}

// Classify returns, for each season, the ascending indices of the time
// steps of axis whose month belongs to it. Every season has an entry,
// which is empty if nothing matched. Time steps in months that belong to
// no season are not returned.
func Classify(axis TimeAxis, seasons []Season) (map[string][]int, error) {
	if err := ValidateSeasons(seasons); err != nil {
		return nil, err
	}
	o := make(map[string][]int, len(seasons))
	for _, s := range seasons {
		o[s.Name] = []int{}
	}
	for i, t := range axis {
		for _, s := range seasons {
			if s.Contains(t.Month()) {
				o[s.Name] = append(o[s.Name], i)
				break
			}
		}
	}
	return o, nil
}

// Offset returns a copy of idx with by added to each index, which maps
// indices of a sub-range of a time axis back to the full axis.
func Offset(idx []int, by int) []int {
	o := make([]int, len(idx))
	for i, v := range idx {
		o[i] = v + by
	}
	return o
}
