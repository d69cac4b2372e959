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
	"math"
	"sort"
	"strconv"
	"strings"
)

// DepthTable maps depths in metres (negative below the surface) to
// vertical level indices of the source grid.
type DepthTable map[float64]int

// GBR4Depths is the level table of the eReefs GBR4 grid.
var GBR4Depths = DepthTable{
	-0.5:   16,
	-1.5:   15,
	-3.0:   14,
	-5.55:  13,
	-8.8:   12,
	-12.75: 11,
	-17.75: 10,
	-23.75: 9,
	-31.0:  8,
	-39.5:  7,
	-49.0:  6,
	-60.0:  5,
	-73.0:  4,
	-88.0:  3,
	-103.0: 2,
	-120.0: 1,
	-145.0: 0,
}

// Resolve returns the level index for depth. Only depths that are keys of
// the table are accepted; there is no interpolation between levels.
func (t DepthTable) Resolve(depth float64) (int, error) {
	if k, ok := t[depth]; ok {
		return k, nil
	}
	return 0, &ConfigurationError{
		Setting: "depth",
		Msg: fmt.Sprintf("%v is not a level of the depth table; valid depths are %s",
			depth, t.list()),
	}
}

// Depths returns the depths in the table, from the surface down.
func (t DepthTable) Depths() []float64 {
	d := make([]float64, 0, len(t))
	for k := range t {
		d = append(d, k)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(d)))
	return d
}

func (t DepthTable) list() string {
	d := t.Depths()
	s := make([]string, len(d))
	for i, v := range d {
		s[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(s, ", ")
}

// DepthLabel formats the magnitude of depth for use in file names,
// always with a decimal point: -3 gives "3.0" and -5.55 gives "5.55".
func DepthLabel(depth float64) string {
	s := strconv.FormatFloat(math.Abs(depth), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
