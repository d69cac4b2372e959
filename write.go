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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// WriteResult writes r to a NetCDF file at path with dimensions
// (y, x). The grid fields and global attributes of the source dataset are
// kept, and a variable is written for each mean. The file is written to a
// temporary location and renamed into place, so path is either left as
// it was or replaced by the complete result. Errors are of type
// *WriteError.
func WriteResult(r *Result, path string) error {
	if err := writeResult(r, path); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

func writeResult(r *Result, path string) error {
	g := r.Grid
	h := cdf.NewHeader([]string{g.YDim, g.XDim}, []int{g.NY, g.NX})

	names := make(map[string]bool)
	var fields []*Field
	for _, f := range g.Fields {
		if !onGrid(f.Dims, g.YDim, g.XDim) {
			continue
		}
		if _, err := storable(f.Values); err != nil {
			continue
		}
		h.AddVariable(f.Name, f.Dims, typeOf(mustStorable(f.Values)).prototype())
		addAttributes(h, f.Name, f.Attrs)
		names[f.Name] = true
		fields = append(fields, f)
	}

	fills := make([]float64, len(r.Means))
	var varNames []string
	for i, m := range r.Means {
		if names[m.Name] {
			return fmt.Errorf("mean %s has the same name as a grid variable", m.Name)
		}
		attrs, fill := meanAttributes(m, names)
		fills[i] = fill
		h.AddVariable(m.Name, []string{g.YDim, g.XDim}, m.Type.prototype())
		addAttributes(h, m.Name, attrs)
		varNames = append(varNames, m.Name)
	}

	global := g.Global.Without(attrFingerprint, attrGridDims, attrShape,
		attrGroup, attrTimeStart, attrTimeEnd, attrSamples, attrVariables, attrRun)
	addAttributes(h, "", global)
	h.AddAttribute("", attrGridDims, g.YDim+" "+g.XDim)
	h.AddAttribute("", attrShape, []int32{int32(g.NY), int32(g.NX)})
	h.AddAttribute("", attrGroup, r.Group)
	h.AddAttribute("", attrTimeStart, r.Start.Format(time.RFC3339))
	h.AddAttribute("", attrTimeEnd, r.End.Format(time.RFC3339))
	h.AddAttribute("", attrSamples, []int32{int32(r.Samples)})
	h.AddAttribute("", attrVariables, strings.Join(varNames, " "))
	if r.Run != "" {
		h.AddAttribute("", attrRun, r.Run)
	}
	h.Define()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	f, err := cdf.Create(tmp, h)
	if err != nil {
		return fail(err)
	}
	for _, fl := range fields {
		vals := mustStorable(fl.Values)
		if s, ok := vals.(string); ok {
			vals = padChars(s, h.Lengths(fl.Name))
		}
		if err := writeWhole(f, fl.Name, h.Lengths(fl.Name), vals); err != nil {
			return fail(fmt.Errorf("writing %s: %v", fl.Name, err))
		}
	}
	for i, m := range r.Means {
		vals := make([]float64, len(m.Data.Elements))
		for j, x := range m.Data.Elements {
			if math.IsNaN(x) {
				x = fills[i]
			}
			vals[j] = x
		}
		if err := writeWhole(f, m.Name, h.Lengths(m.Name), convert(vals, m.Type)); err != nil {
			return fail(fmt.Errorf("writing %s: %v", m.Name, err))
		}
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func mustStorable(v interface{}) interface{} {
	s, err := storable(v)
	if err != nil {
		panic(err)
	}
	return s
}

// meanAttributes returns the attributes of the output variable for m and
// the value written for missing cells. The source fill value is kept if
// it can be represented in the output type; otherwise NaN is used.
func meanAttributes(m *Mean, fields map[string]bool) (Attributes, float64) {
	fill := nan(m.Type)
	if fv, ok := m.Attrs.Get("_FillValue"); ok && typeOf(fv) == m.Type && valueLen(fv) == 1 {
		fill = fv
	}
	attrs := m.Attrs.Without("_FillValue", "missing_value").Set("_FillValue", fill)

	method := "time: mean"
	if cm := attrs.String("cell_methods"); cm != "" {
		method = cm + " " + method
	}
	attrs = attrs.Set("cell_methods", method)

	if c := attrs.String("coordinates"); c != "" {
		var keep []string
		for _, n := range strings.Fields(c) {
			if fields[n] {
				keep = append(keep, n)
			}
		}
		if len(keep) == 0 {
			attrs = attrs.Without("coordinates")
		} else {
			attrs = attrs.Set("coordinates", strings.Join(keep, " "))
		}
	}
	if gm := attrs.String("grid_mapping"); gm != "" && !fields[gm] {
		attrs = attrs.Without("grid_mapping")
	}
	return attrs, float64s(fill)[0]
}

// ReadResult reads a file written by WriteResult. The per-cell counts
// are not stored, so the Count of each Mean is nil.
func ReadResult(path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bgcagg: opening result: %v", err)
	}
	defer file.Close()
	f, err := cdf.Open(file)
	if err != nil {
		return nil, fmt.Errorf("bgcagg: reading result %s: %v", path, err)
	}
	h := f.Header
	dims := strings.Fields(stringAttribute(h, "", attrGridDims))
	group := stringAttribute(h, "", attrGroup)
	if len(dims) != 2 || group == "" {
		return nil, fmt.Errorf("bgcagg: %s is not an aggregation result", path)
	}
	r := &Result{
		Group: group,
		Run:   stringAttribute(h, "", attrRun),
		Grid: &Grid{YDim: dims[0], XDim: dims[1],
			Global: headerAttributes(h, "")},
	}
	if shape := float64s(h.GetAttribute("", attrShape)); len(shape) == 2 {
		r.Grid.NY, r.Grid.NX = int(shape[0]), int(shape[1])
	}
	if s := float64s(h.GetAttribute("", attrSamples)); len(s) == 1 {
		r.Samples = int(s[0])
	}
	if r.Start, err = time.Parse(time.RFC3339, stringAttribute(h, "", attrTimeStart)); err != nil {
		return nil, fmt.Errorf("bgcagg: reading %s: %v", path, err)
	}
	if r.End, err = time.Parse(time.RFC3339, stringAttribute(h, "", attrTimeEnd)); err != nil {
		return nil, fmt.Errorf("bgcagg: reading %s: %v", path, err)
	}
	means := make(map[string]bool)
	for _, v := range strings.Fields(stringAttribute(h, "", attrVariables)) {
		means[v] = true
	}
	for _, v := range h.Variables() {
		vals, err := readWhole(f, v, h.Lengths(v))
		if err != nil {
			return nil, fmt.Errorf("bgcagg: reading %s from %s: %v", v, path, err)
		}
		attrs := headerAttributes(h, v)
		if !means[v] {
			r.Grid.Fields = append(r.Grid.Fields, &Field{Name: v, Dims: h.Dimensions(v),
				Values: vals, Attrs: attrs})
			continue
		}
		data := sparse.ZerosDense(r.Grid.NY, r.Grid.NX)
		miss := missingValues(h, v)
		for i, x := range float64s(vals) {
			if isMissing(x, miss) {
				x = math.NaN()
			}
			data.Elements[i] = x
		}
		r.Means = append(r.Means, &Mean{Name: v, Type: typeOf(vals), Attrs: attrs, Data: data})
	}
	return r, nil
}
