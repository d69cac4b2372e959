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
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	testTimeUnits = "days since 1990-01-01 00:00:00 +10"
	testFill      = -999
)

// aest is the time zone of the eReefs time coordinate.
var aest = time.FixedZone("+10:00", 10*3600)

// testDepths maps the test source's levels to depths. Level 3 is the
// surface.
var testDepths = DepthTable{-0.5: 3, -3.0: 2, -12.75: 0}

// testSource describes a synthetic model output file on dimensions
// (time, k, j, i) with one time step per month.
type testSource struct {
	Start          time.Time
	NT, NK, NY, NX int
	Vars           []string

	// Record makes time the record dimension.
	Record bool

	// Constant, if not zero, is the value of every valid cell.
	Constant float32
}

// newTestSource returns a source that begins in September 2010 and ends
// in December 2018, like the eReefs GBR4 monthly product.
func newTestSource() testSource {
	return testSource{
		Start: time.Date(2010, time.September, 1, 0, 0, 0, 0, aest),
		NT:    100,
		NK:    4,
		NY:    3,
		NX:    2,
		Vars:  []string{"TN", "DIN", "Chl_a_sum"},
	}
}

func (s testSource) time(t int) time.Time {
	return time.Date(s.Start.Year(), s.Start.Month()+time.Month(t), 1, 0, 0, 0, 0, aest)
}

// value is the value of the variable with index vi at time index t,
// level k and horizontal cell (row-major) index cell. All values are
// exactly representable as float32.
func (s testSource) value(vi, t, k, cell int) float64 {
	if s.Constant != 0 {
		return float64(s.Constant)
	}
	return float64(vi*10000+k*1000+t) + float64(cell)/4
}

// missing returns whether a cell holds the fill value. Cell 1 is always
// missing and cell 0 is missing at even time indices.
func (s testSource) missing(t, cell int) bool {
	return cell == 1 || (cell == 0 && t%2 == 0)
}

// mean returns the expected mean of the variable with index vi at level
// k over the time indices idx.
func (s testSource) mean(vi, k int, idx []int) []float64 {
	o := make([]float64, s.NY*s.NX)
	for c := range o {
		var sum float64
		var n int
		for _, t := range idx {
			if s.missing(t, c) {
				continue
			}
			sum += s.value(vi, t, k, c)
			n++
		}
		if n == 0 {
			o[c] = math.NaN()
		} else {
			o[c] = sum / float64(n)
		}
	}
	return o
}

// write creates the source file at path.
func (s testSource) write(t *testing.T, path string) {
	t.Helper()
	dims := []string{"time", "k", "j", "i"}
	lengths := []int{s.NT, s.NK, s.NY, s.NX}
	hl := append([]int{}, lengths...)
	if s.Record {
		hl[0] = 0
	}
	h := cdf.NewHeader(dims, hl)
	h.AddAttribute("", "title", "synthetic GBR4 BGC monthly means")
	h.AddAttribute("", "Conventions", "CF-1.0")
	h.AddAttribute("", attrRun, "upstream-run")
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", testTimeUnits)
	h.AddAttribute("time", "calendar", "gregorian")
	h.AddVariable("zc", []string{"k"}, []float64{0})
	h.AddAttribute("zc", "units", "m")
	h.AddVariable("latitude", []string{"j", "i"}, []float64{0})
	h.AddAttribute("latitude", "standard_name", "latitude")
	h.AddAttribute("latitude", "units", "degree_north")
	h.AddVariable("longitude", []string{"j", "i"}, []float64{0})
	h.AddAttribute("longitude", "standard_name", "longitude")
	h.AddAttribute("longitude", "units", "degree_east")
	for _, v := range s.Vars {
		h.AddVariable(v, dims, []float32{0})
		h.AddAttribute(v, "_FillValue", []float32{testFill})
		h.AddAttribute(v, "units", "mg m-3")
		h.AddAttribute(v, "long_name", v+" concentration")
		h.AddAttribute(v, "coordinates", "time zc latitude longitude")
	}
	h.Define()

	ff, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		t.Fatal(err)
	}
	ref := time.Date(1990, time.January, 1, 0, 0, 0, 0, aest)
	times := make([]float64, s.NT)
	for i := range times {
		times[i] = s.time(i).Sub(ref).Hours() / 24
	}
	zc := []float64{-12.75, -5.55, -3.0, -0.5}[:s.NK]
	lat := make([]float64, s.NY*s.NX)
	lon := make([]float64, s.NY*s.NX)
	for j := 0; j < s.NY; j++ {
		for i := 0; i < s.NX; i++ {
			lat[j*s.NX+i] = -10 - 0.5*float64(j)
			lon[j*s.NX+i] = 142 + 0.5*float64(i)
		}
	}
	if s.Record {
		for i, v := range times {
			if err := writeRecord(f, "time", []int{s.NT}, i, []float64{v}); err != nil {
				t.Fatal(err)
			}
		}
	} else if err := writeWhole(f, "time", []int{s.NT}, times); err != nil {
		t.Fatal(err)
	}
	for v, vals := range map[string][]float64{"zc": zc, "latitude": lat, "longitude": lon} {
		if err := writeWhole(f, v, h.Lengths(v), vals); err != nil {
			t.Fatal(err)
		}
	}
	slab := s.NK * s.NY * s.NX
	for vi, v := range s.Vars {
		for ti := 0; ti < s.NT; ti++ {
			vals := make([]float32, slab)
			for k := 0; k < s.NK; k++ {
				for c := 0; c < s.NY*s.NX; c++ {
					x := float32(s.value(vi, ti, k, c))
					if s.missing(ti, c) {
						x = testFill
					}
					vals[k*s.NY*s.NX+c] = x
				}
			}
			if err := writeRecord(f, v, lengths, ti, vals); err != nil {
				t.Fatal(err)
			}
		}
	}
	if s.Record {
		if err := cdf.UpdateNumRecs(ff); err != nil {
			t.Fatal(err)
		}
	}
}

// create writes the source to a file in a new temporary directory and
// returns its path.
func (s testSource) create(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monthly.nc")
	s.write(t, path)
	return path
}

// open opens the source file at path.
func openTestSource(t *testing.T, path string) Source {
	t.Helper()
	src, err := OpenSource(context.Background(), path, SourceOptions{Log: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return src
}

// testDataset materializes the given variables of s at level k and
// returns the open dataset.
func testDataset(t *testing.T, s testSource, k int, vars ...string) *Dataset {
	t.Helper()
	src := openTestSource(t, s.create(t))
	defer src.Close()
	m := &Materializer{
		Path:      filepath.Join(t.TempDir(), "local.nc"),
		Variables: vars,
		Level:     k,
		Depth:     -3,
		Log:       testLogger(),
	}
	ds, err := m.Materialize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func testLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

// recorder is an Observer that records the notifications it receives.
type recorder struct {
	mu       sync.Mutex
	events   []string
	progress int
	total    int64
	groups   map[string]string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) VariableStarted(name string, index, total int) { r.add("start " + name) }
func (r *recorder) VariableSkipped(name string)                   { r.add("skip " + name) }
func (r *recorder) VariableDone(name string)                      { r.add("done " + name) }

func (r *recorder) Progress(count, unit, total int64) {
	r.mu.Lock()
	r.progress++
	r.total = total
	r.mu.Unlock()
}

func (r *recorder) GroupWritten(group, path string) {
	r.mu.Lock()
	if r.groups == nil {
		r.groups = make(map[string]string)
	}
	r.groups[group] = path
	r.mu.Unlock()
	r.add("group " + group)
}

// similar compares two fields of float values, treating NaNs as equal.
func similar(t *testing.T, have, want []float64, tolerance float64) {
	t.Helper()
	if len(have) != len(want) {
		t.Fatalf("have %d values, want %d", len(have), len(want))
	}
	for i := range want {
		switch {
		case math.IsNaN(want[i]) && math.IsNaN(have[i]):
		case math.IsNaN(want[i]) || math.IsNaN(have[i]):
			t.Errorf("value %d: have %v, want %v", i, have[i], want[i])
		case math.Abs(have[i]-want[i]) > tolerance:
			t.Errorf("value %d: have %v, want %v", i, have[i], want[i])
		}
	}
}
