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
	"io"
	"math"
	"os"
	"strings"

	"github.com/ctessum/cdf"
)

// Field is a variable held entirely in memory, such as a coordinate or
// grid mapping variable.
type Field struct {
	Name   string
	Dims   []string
	Values interface{}
	Attrs  Attributes
}

// Grid describes the time and horizontal coordinates shared by every
// variable of a dataset.
type Grid struct {
	TimeDim, YDim, XDim string
	NT, NY, NX          int

	// Fields holds the variables whose dimensions are a subset of
	// (YDim, XDim), including scalar grid mapping variables.
	Fields []*Field

	// Global holds the global attributes.
	Global Attributes
}

// Field returns the named field, or nil.
func (g *Grid) Field(name string) *Field {
	for _, f := range g.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Dataset is a local NetCDF file holding a single depth level of a set
// of variables on dimensions (time, y, x). It is created by a
// Materializer and is read-only afterwards.
type Dataset struct {
	Path string
	Time TimeAxis
	Grid *Grid

	// Depth and Level are the depth and level index the dataset was
	// extracted at.
	Depth float64
	Level int

	file *os.File
	f    *cdf.File
}

// OpenDataset opens a dataset created by a Materializer.
func OpenDataset(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bgcagg: opening dataset: %v", err)
	}
	f, err := cdf.Open(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("bgcagg: reading dataset %s: %v", path, err)
	}
	d := &Dataset{Path: path, file: file, f: f}
	if err := d.load(); err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dataset) load() error {
	h := d.f.Header
	dims := strings.Fields(stringAttribute(h, "", attrGridDims))
	if len(dims) != 3 {
		return fmt.Errorf("bgcagg: %s is not a materialized dataset (missing %s attribute)",
			d.Path, attrGridDims)
	}
	g := &Grid{TimeDim: dims[0], YDim: dims[1], XDim: dims[2],
		Global: headerAttributes(h, "")}
	d.Grid = g
	if shape := float64s(h.GetAttribute("", attrShape)); len(shape) == 2 {
		g.NY, g.NX = int(shape[0]), int(shape[1])
	}
	if v := float64s(h.GetAttribute("", attrDepth)); len(v) == 1 {
		d.Depth = v[0]
	}
	if v := float64s(h.GetAttribute("", attrLevel)); len(v) == 1 {
		d.Level = int(v[0])
	}

	tl := h.Lengths(g.TimeDim)
	if len(tl) != 1 {
		return fmt.Errorf("bgcagg: dataset %s has no %s coordinate", d.Path, g.TimeDim)
	}
	g.NT = tl[0]
	tv, err := readWhole(d.f, g.TimeDim, tl)
	if err != nil {
		return fmt.Errorf("bgcagg: reading time coordinate of %s: %v", d.Path, err)
	}
	d.Time, err = DecodeTime(float64s(tv), stringAttribute(h, g.TimeDim, "units"),
		stringAttribute(h, g.TimeDim, "calendar"))
	if err != nil {
		return err
	}

	for _, v := range h.Variables() {
		vd := h.Dimensions(v)
		if !onGrid(vd, g.YDim, g.XDim) {
			continue
		}
		vals, err := readWhole(d.f, v, h.Lengths(v))
		if err != nil {
			return fmt.Errorf("bgcagg: reading %s from %s: %v", v, d.Path, err)
		}
		if b, ok := vals.([]uint8); ok && d.Type(v) == Char {
			vals = strings.TrimRight(string(b), "\x00")
		}
		g.Fields = append(g.Fields, &Field{Name: v, Dims: vd, Values: vals,
			Attrs: headerAttributes(h, v)})
	}
	return nil
}

// onGrid returns whether every dimension in dims is y or x. Scalars are on
// the grid.
func onGrid(dims []string, y, x string) bool {
	for _, d := range dims {
		if d != y && d != x {
			return false
		}
	}
	return true
}

// Variables returns the names of the data variables in the dataset,
// which are those on dimensions (time, y, x).
func (d *Dataset) Variables() []string {
	var o []string
	for _, v := range d.f.Header.Variables() {
		if d.Has(v) {
			o = append(o, v)
		}
	}
	return o
}

// Has returns whether the dataset holds data variable v.
func (d *Dataset) Has(v string) bool {
	dims := d.f.Header.Dimensions(v)
	return len(dims) == 3 && dims[0] == d.Grid.TimeDim &&
		dims[1] == d.Grid.YDim && dims[2] == d.Grid.XDim
}

// Type returns the element type of variable v.
func (d *Dataset) Type(v string) DataType {
	return typeOf(d.f.Header.ZeroValue(v, 0))
}

// Attributes returns the attributes of variable v, or the global
// attributes if v is empty.
func (d *Dataset) Attributes(v string) Attributes {
	return headerAttributes(d.f.Header, v)
}

// ReadStep returns time step t of data variable v in row-major (y, x)
// order, with missing values replaced by NaN.
func (d *Dataset) ReadStep(v string, t int) ([]float64, error) {
	if !d.Has(v) {
		return nil, fmt.Errorf("bgcagg: variable %s not in dataset %s", v, d.Path)
	}
	if t < 0 || t >= d.Grid.NT {
		return nil, fmt.Errorf("bgcagg: time index %d out of range [0, %d)", t, d.Grid.NT)
	}
	vals, err := readRecord(d.f, v, d.f.Header.Lengths(v), t)
	if err != nil {
		return nil, fmt.Errorf("bgcagg: reading %s at time index %d: %v", v, t, err)
	}
	miss := missingValues(d.f.Header, v)
	out := float64s(vals)
	for i, x := range out {
		if isMissing(x, miss) {
			out[i] = math.NaN()
		}
	}
	return out, nil
}

// Close closes the underlying file.
func (d *Dataset) Close() error {
	return d.file.Close()
}

// missingValues returns the values that mark missing data in variable v:
// its fill value (explicit or the NetCDF default) and any missing_value.
func missingValues(h *cdf.Header, v string) []float64 {
	m := float64s(h.FillValue(v))
	return append(m, float64s(h.GetAttribute(v, "missing_value"))...)
}

func isMissing(x float64, miss []float64) bool {
	if math.IsNaN(x) {
		return true
	}
	for _, m := range miss {
		if x == m {
			return true
		}
	}
	return false
}

func stringAttribute(h *cdf.Header, v, a string) string {
	s, _ := h.GetAttribute(v, a).(string)
	return s
}

// wholeSpan returns the bounds of an entire variable with the given
// lengths, and its number of elements.
func wholeSpan(lengths []int) (begin, end []int, n int) {
	if len(lengths) == 0 {
		return nil, nil, 1
	}
	begin, end = make([]int, len(lengths)), make([]int, len(lengths))
	n = 1
	for i, l := range lengths {
		end[i] = l - 1
		n *= l
	}
	return begin, end, n
}

// recordSpan returns the bounds of element t of the first dimension of a
// variable with the given lengths, and its number of elements.
func recordSpan(lengths []int, t int) (begin, end []int, n int) {
	begin, end, _ = wholeSpan(lengths)
	begin[0], end[0] = t, t
	n = 1
	for _, l := range lengths[1:] {
		n *= l
	}
	return begin, end, n
}

// readSpan reads the n elements between begin and end (inclusive) of
// variable v.
func readSpan(f *cdf.File, v string, begin, end []int, n int) (interface{}, error) {
	r := f.Reader(v, begin, end)
	if r == nil {
		return nil, fmt.Errorf("variable %s not found", v)
	}
	buf := r.Zero(n)
	nr, err := r.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if nr != n {
		return nil, fmt.Errorf("read %d of %d values of %s", nr, n, v)
	}
	return buf, nil
}

// writeSpan writes vals between begin and end (inclusive) of variable v,
// converting them to the type of v if necessary.
func writeSpan(f *cdf.File, v string, begin, end []int, vals interface{}) error {
	w := f.Writer(v, begin, end)
	if w == nil {
		return fmt.Errorf("variable %s not found", v)
	}
	want := typeOf(f.Header.ZeroValue(v, 0))
	switch {
	case want == Char:
		if s, ok := vals.(string); ok {
			vals = []uint8(s)
		}
	case typeOf(vals) != want:
		vals = convert(float64s(vals), want)
	}
	n := valueLen(vals)
	nw, err := w.Write(vals)
	if err == io.EOF && nw == n {
		err = nil
	}
	if err != nil {
		return err
	}
	if nw != n {
		return fmt.Errorf("wrote %d of %d values of %s", nw, n, v)
	}
	return nil
}

func readWhole(f *cdf.File, v string, lengths []int) (interface{}, error) {
	for _, l := range lengths {
		if l == 0 {
			return f.Header.ZeroValue(v, 0), nil
		}
	}
	begin, end, n := wholeSpan(lengths)
	return readSpan(f, v, begin, end, n)
}

func writeWhole(f *cdf.File, v string, lengths []int, vals interface{}) error {
	if valueLen(vals) == 0 {
		return nil
	}
	begin, end, _ := wholeSpan(lengths)
	return writeSpan(f, v, begin, end, vals)
}

func readRecord(f *cdf.File, v string, lengths []int, t int) (interface{}, error) {
	begin, end, n := recordSpan(lengths, t)
	return readSpan(f, v, begin, end, n)
}

func writeRecord(f *cdf.File, v string, lengths []int, t int, vals interface{}) error {
	begin, end, _ := recordSpan(lengths, t)
	return writeSpan(f, v, begin, end, vals)
}
