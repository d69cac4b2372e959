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
	"time"

	"github.com/ctessum/sparse"
)

// Mean is the time mean of one variable over an aggregation group.
type Mean struct {
	Name string

	// Type is the element type the mean is stored as.
	Type DataType

	// Attrs are the attributes of the source variable.
	Attrs Attributes

	// Data holds the mean of each (y, x) cell. Cells with no valid
	// values are NaN.
	Data *sparse.DenseArray

	// Count holds the number of valid values in each cell.
	Count *sparse.DenseArrayInt
}

// Result is the output of aggregating a dataset over a group of time
// steps.
type Result struct {
	Group string

	// Start and End are the times of the first and last time step in
	// the group.
	Start, End time.Time

	// Samples is the number of time steps in the group.
	Samples int

	Grid  *Grid
	Means []*Mean

	// Run identifies the run that produced the result, if any.
	Run string
}

// Aggregate computes the mean of each of the named variables in ds over
// the time steps with the given indices. Missing values are skipped; a
// cell that is missing at every selected time step is missing (NaN) in
// the result. If variables is empty, every data variable is aggregated.
// An EmptyRangeError is returned if indices is empty.
func Aggregate(ctx context.Context, ds *Dataset, variables []string, indices []int, group string) (*Result, error) {
	if len(indices) == 0 {
		return nil, &EmptyRangeError{Group: group}
	}
	if len(variables) == 0 {
		variables = ds.Variables()
	}
	first, last := indices[0], indices[0]
	for _, i := range indices {
		if i < 0 || i >= ds.Grid.NT {
			return nil, &ConfigurationError{Setting: "time indices",
				Msg: fmt.Sprintf("index %d out of range [0, %d) for group %q", i, ds.Grid.NT, group)}
		}
		if i < first {
			first = i
		}
		if i > last {
			last = i
		}
	}
	r := &Result{
		Group:   group,
		Start:   ds.Time[first],
		End:     ds.Time[last],
		Samples: len(indices),
		Grid:    ds.Grid,
	}
	for _, v := range variables {
		if !ds.Has(v) {
			return nil, &ConfigurationError{Setting: "variables",
				Msg: fmt.Sprintf("%s not in dataset %s", v, ds.Path)}
		}
		m, err := mean(ctx, ds, v, indices)
		if err != nil {
			return nil, err
		}
		r.Means = append(r.Means, m)
	}
	return r, nil
}

func mean(ctx context.Context, ds *Dataset, v string, indices []int) (*Mean, error) {
	ny, nx := ds.Grid.NY, ds.Grid.NX
	m := &Mean{
		Name:  v,
		Type:  ds.Type(v).floating(),
		Attrs: ds.Attributes(v),
		Data:  sparse.ZerosDense(ny, nx),
		Count: sparse.ZerosDenseInt(ny, nx),
	}
	sum, n := m.Data.Elements, m.Count.Elements
	for _, t := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals, err := ds.ReadStep(v, t)
		if err != nil {
			return nil, err
		}
		if len(vals) != len(sum) {
			return nil, fmt.Errorf("bgcagg: %s at time index %d has %d values, want %d", v, t, len(vals), len(sum))
		}
		for i, x := range vals {
			if math.IsNaN(x) {
				continue
			}
			sum[i] += x
			n[i]++
		}
	}
	for i := range sum {
		if n[i] == 0 {
			sum[i] = math.NaN()
		} else {
			sum[i] /= float64(n[i])
		}
	}
	return m, nil
}
