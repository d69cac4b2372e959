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

// Range is a half-open range [Start, End) of time indices.
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Indices returns the indices in the range in ascending order.
func (r Range) Indices() []int {
	o := make([]int, r.Len())
	for i := range o {
		o[i] = r.Start + i
	}
	return o
}

// A Window trims a time axis to whole calendar periods.
type Window interface {
	// Range returns the selected range of axis, which may be empty.
	// axis is in ascending order.
	Range(axis TimeAxis) (Range, error)
	fmt.Stringer
}

// SelectWindow applies w to axis. An empty selection is reported as
// an *EmptyRangeError for group.
func SelectWindow(axis TimeAxis, w Window, group string) (Range, error) {
	if !axis.Ascending() {
		return Range{}, &ConfigurationError{Setting: "time coordinate",
			Msg: "values are not in ascending order"}
	}
	r, err := w.Range(axis)
	if err != nil {
		return Range{}, err
	}
	if r.Len() == 0 {
		return Range{}, &EmptyRangeError{Group: group}
	}
	return r, nil
}

// FullYears keeps the time steps whose calendar year is between First
// and Last, inclusive.
type FullYears struct {
	First, Last int
}

// Range implements Window.
func (w FullYears) Range(axis TimeAxis) (Range, error) {
	if w.First > w.Last {
		return Range{}, &ConfigurationError{Setting: "year range",
			Msg: fmt.Sprintf("first year %d is after last year %d", w.First, w.Last)}
	}
	r := Range{Start: len(axis), End: len(axis)}
	for i, t := range axis {
		if t.Year() >= w.First {
			r.Start = i
			break
		}
	}
	for i := r.Start; i < len(axis); i++ {
		if axis[i].Year() > w.Last {
			r.End = i
			break
		}
	}
	return r, nil
}

func (w FullYears) String() string { return fmt.Sprintf("years %d-%d", w.First, w.Last) }

// DropLeadingPartial drops the time steps before the first one that
// falls in StartMonth, so that the selection begins on a whole
// seasonal cycle.
type DropLeadingPartial struct {
	StartMonth time.Month
}

// Range implements Window.
func (w DropLeadingPartial) Range(axis TimeAxis) (Range, error) {
	if w.StartMonth < time.January || w.StartMonth > time.December {
		return Range{}, &ConfigurationError{Setting: "start month",
			Msg: fmt.Sprintf("%d is not a calendar month", w.StartMonth)}
	}
	for i, t := range axis {
		if t.Month() == w.StartMonth {
			return Range{Start: i, End: len(axis)}, nil
		}
	}
	return Range{Start: len(axis), End: len(axis)}, nil
}

func (w DropLeadingPartial) String() string {
	return fmt.Sprintf("from first %s", w.StartMonth)
}

// DateRange keeps the time steps in [From, To). A zero To leaves the
// range open ended.
type DateRange struct {
	From, To time.Time
}

// Range implements Window.
func (w DateRange) Range(axis TimeAxis) (Range, error) {
	if !w.To.IsZero() && w.To.Before(w.From) {
		return Range{}, &ConfigurationError{Setting: "date range",
			Msg: fmt.Sprintf("%v is before %v", w.To, w.From)}
	}
	r := Range{Start: len(axis), End: len(axis)}
	for i, t := range axis {
		if !t.Before(w.From) {
			r.Start = i
			break
		}
	}
	if w.To.IsZero() {
		return r, nil
	}
	for i := r.Start; i < len(axis); i++ {
		if !axis[i].Before(w.To) {
			r.End = i
			break
		}
	}
	return r, nil
}

func (w DateRange) String() string {
	if w.To.IsZero() {
		return fmt.Sprintf("from %s", w.From.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s to %s", w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))
}
