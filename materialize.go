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
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ereefs/bgcagg/internal/hash"
	"github.com/sirupsen/logrus"
)

// A Materializer copies a single vertical level of a set of variables
// from a Source into a local Dataset. The dataset is created with the
// time and horizontal coordinates of the source and then extended one
// variable at a time, so that an interrupted run can be resumed without
// fetching the variables that are already present.
type Materializer struct {
	// Path is the location of the local dataset.
	Path string

	// Variables are the names of the variables to materialize.
	Variables []string

	// Level is the vertical level index to extract and Depth is the
	// depth it corresponds to.
	Level int
	Depth float64

	// TimeDim is the name of the time dimension. Empty means "time".
	TimeDim string

	// DepthDim is the name of the vertical dimension. If empty, any
	// name is accepted.
	DepthDim string

	// Source identifies where the data came from. It is recorded in the
	// dataset.
	Source string

	// Fingerprint identifies the source and level of the dataset. An
	// existing dataset with a different fingerprint is not reused. If
	// empty, it is computed from Source, Level and Depth.
	Fingerprint string

	Observer Observer
	Log      logrus.FieldLogger
}

// layout is the horizontal layout shared by the requested variables.
type layout struct {
	y, x       string
	nt, ny, nx int
}

func (m *Materializer) setDefaults() {
	if m.TimeDim == "" {
		m.TimeDim = "time"
	}
	if m.Fingerprint == "" {
		m.Fingerprint = hash.Fingerprint(m.Source, m.Level, m.Depth)
	}
	if m.Observer == nil {
		m.Observer = NopObserver{}
	}
	if m.Log == nil {
		m.Log = logrus.StandardLogger()
	}
}

// Materialize creates or extends the local dataset so that it holds every
// requested variable, and returns it open for reading. Variables already
// present are not fetched again. The requested variables are checked
// against the source before anything is written, and a
// ConfigurationError is returned if any of them is unusable. If fetching
// a variable fails, a TransferError is returned and the dataset on disk
// keeps every variable appended before the failure.
func (m *Materializer) Materialize(ctx context.Context, src Source) (*Dataset, error) {
	m.setDefaults()
	lay, err := m.check(src)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(m.Path); os.IsNotExist(err) {
		m.Log.WithField("path", m.Path).Info("creating local dataset")
		if err := m.createSkeleton(src, lay); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, &ConfigurationError{Setting: "local data", Msg: err.Error()}
	}
	ds, err := OpenDataset(m.Path)
	if err != nil {
		return nil, &ConfigurationError{Setting: "local data", Msg: err.Error()}
	}
	if err := m.compatible(ds, lay); err != nil {
		ds.Close()
		return nil, err
	}
	for i, v := range m.Variables {
		if ds.Has(v) {
			m.Observer.VariableSkipped(v)
			continue
		}
		m.Observer.VariableStarted(v, i, len(m.Variables))
		if ds, err = m.appendVariable(ctx, ds, src, v, lay); err != nil {
			if ds != nil {
				ds.Close()
			}
			return nil, err
		}
		m.Observer.VariableDone(v)
	}
	return ds, nil
}

// check returns the layout shared by the requested variables, or an error
// if any of them can not be materialized.
func (m *Materializer) check(src Source) (layout, error) {
	var lay layout
	if len(m.Variables) == 0 {
		return lay, &ConfigurationError{Setting: "variables", Msg: "no variables requested"}
	}
	have := make(map[string]bool)
	for _, v := range src.Variables() {
		have[v] = true
	}
	seen := make(map[string]bool)
	for i, v := range m.Variables {
		if seen[v] {
			return lay, &ConfigurationError{Setting: "variables", Msg: fmt.Sprintf("%s requested more than once", v)}
		}
		seen[v] = true
		if !have[v] {
			return lay, &ConfigurationError{Setting: "variables", Msg: fmt.Sprintf("%s not found in source", v)}
		}
		dims := src.Dimensions(v)
		shape := src.Shape(v)
		if len(dims) != 4 || len(shape) != 4 {
			return lay, &ConfigurationError{Setting: "variables",
				Msg: fmt.Sprintf("%s has dimensions %v, want (%s, depth, y, x)", v, dims, m.TimeDim)}
		}
		if dims[0] != m.TimeDim {
			return lay, &ConfigurationError{Setting: "time dimension",
				Msg: fmt.Sprintf("%s has dimensions %v, want %s first", v, dims, m.TimeDim)}
		}
		if m.DepthDim != "" && dims[1] != m.DepthDim {
			return lay, &ConfigurationError{Setting: "depth dimension",
				Msg: fmt.Sprintf("%s has dimensions %v, want %s second", v, dims, m.DepthDim)}
		}
		if t := src.Type(v); t == 0 || t == Char {
			return lay, &ConfigurationError{Setting: "variables", Msg: fmt.Sprintf("%s is not numeric", v)}
		}
		if m.Level < 0 || m.Level >= shape[1] {
			return lay, &ConfigurationError{Setting: "depth",
				Msg: fmt.Sprintf("level %d out of range for %s with %d levels", m.Level, v, shape[1])}
		}
		l := layout{y: dims[2], x: dims[3], nt: shape[0], ny: shape[2], nx: shape[3]}
		if i == 0 {
			lay = l
		} else if l != lay {
			return lay, &ConfigurationError{Setting: "variables",
				Msg: fmt.Sprintf("%s is on grid %v, but %s is on grid %v", v, l, m.Variables[0], lay)}
		}
	}
	if lay.nt == 0 {
		return lay, &ConfigurationError{Setting: "source", Msg: "source has no time steps"}
	}
	if !have[m.TimeDim] {
		return lay, &ConfigurationError{Setting: "time dimension",
			Msg: fmt.Sprintf("source has no %s coordinate variable", m.TimeDim)}
	}
	return lay, nil
}

// compatible checks that an existing dataset was created from the same
// source and level and on the same grid.
func (m *Materializer) compatible(ds *Dataset, lay layout) error {
	if fp := ds.Attributes("").String(attrFingerprint); fp != m.Fingerprint {
		return &ConfigurationError{Setting: "local data",
			Msg: fmt.Sprintf("%s was created from a different source or depth; remove it or choose another path", m.Path)}
	}
	g := ds.Grid
	if g.TimeDim != m.TimeDim || g.YDim != lay.y || g.XDim != lay.x ||
		g.NT != lay.nt || g.NY != lay.ny || g.NX != lay.nx {
		return &ConfigurationError{Setting: "local data",
			Msg: fmt.Sprintf("%s has grid %s(%d) %s(%d) %s(%d), but the source has %s(%d) %s(%d) %s(%d)",
				m.Path, g.TimeDim, g.NT, g.YDim, g.NY, g.XDim, g.NX,
				m.TimeDim, lay.nt, lay.y, lay.ny, lay.x, lay.nx)}
	}
	present := make(map[string]bool)
	for _, v := range ds.f.Header.Variables() {
		present[v] = true
	}
	for _, v := range m.Variables {
		if present[v] && !ds.Has(v) {
			return &ConfigurationError{Setting: "local data",
				Msg: fmt.Sprintf("%s holds %s with unexpected dimensions", m.Path, v)}
		}
	}
	return nil
}

// supportVariables returns the source variables that describe the time
// and horizontal grid: the time coordinate, any coordinate variables of
// the horizontal dimensions, and the variables named by the coordinates
// and grid_mapping attributes of the requested variables.
func (m *Materializer) supportVariables(src Source, lay layout) []string {
	want := map[string]bool{m.TimeDim: true, lay.y: true, lay.x: true}
	for _, v := range m.Variables {
		a := src.Attributes(v)
		for _, n := range strings.Fields(a.String("coordinates")) {
			want[n] = true
		}
		if n := a.String("grid_mapping"); n != "" {
			want[n] = true
		}
	}
	var o []string
	for _, v := range src.Variables() {
		if !want[v] {
			continue
		}
		dims := src.Dimensions(v)
		if v == m.TimeDim && (len(dims) != 1 || dims[0] != m.TimeDim) {
			continue
		}
		if v != m.TimeDim && !onGrid(dims, lay.y, lay.x) {
			continue
		}
		if src.Type(v) == 0 {
			continue
		}
		o = append(o, v)
	}
	return o
}

// createSkeleton writes a dataset holding the grid description but no data
// variables.
func (m *Materializer) createSkeleton(src Source, lay layout) error {
	dims := []string{m.TimeDim, lay.y, lay.x}
	h := cdf.NewHeader(dims, []int{lay.nt, lay.ny, lay.nx})
	support := m.supportVariables(src, lay)
	for _, v := range support {
		h.AddVariable(v, src.Dimensions(v), src.Type(v).prototype())
		addAttributes(h, v, src.Attributes(v))
	}
	var global Attributes
	for _, a := range src.Attributes("") {
		if !strings.HasPrefix(a.Name, attrPrefix) {
			global = append(global, a)
		}
	}
	addAttributes(h, "", global)
	h.AddAttribute("", attrFingerprint, m.Fingerprint)
	h.AddAttribute("", attrDepth, []float64{m.Depth})
	h.AddAttribute("", attrLevel, []int32{int32(m.Level)})
	h.AddAttribute("", attrGridDims, strings.Join(dims, " "))
	h.AddAttribute("", attrShape, []int32{int32(lay.ny), int32(lay.nx)})
	if m.Source != "" {
		h.AddAttribute("", attrSource, m.Source)
	}
	h.Define()

	return m.replace(h, func(f *cdf.File) error {
		for _, v := range support {
			vals, err := src.ReadAll(v)
			if err != nil {
				return &TransferError{Variable: v, Step: StepFetch, Err: err}
			}
			if s, ok := vals.(string); ok {
				vals = padChars(s, h.Lengths(v))
			}
			if err := writeWhole(f, v, h.Lengths(v), vals); err != nil {
				return &TransferError{Variable: v, Step: StepAppend, Err: &WriteError{Path: m.Path, Err: err}}
			}
		}
		return nil
	})
}

// padChars pads or truncates s to fill a character variable with the
// given lengths.
func padChars(s string, lengths []int) []uint8 {
	_, _, n := wholeSpan(lengths)
	b := make([]uint8, n)
	copy(b, s)
	return b
}

// replace writes a new file with header h to a temporary file next to
// m.Path, fills it with fill and then renames it over m.Path.
func (m *Materializer) replace(h *cdf.Header, fill func(f *cdf.File) error) error {
	dir := filepath.Dir(m.Path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return &WriteError{Path: m.Path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(m.Path)+".tmp-*")
	if err != nil {
		return &WriteError{Path: m.Path, Err: err}
	}
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	f, err := cdf.Create(tmp, h)
	if err != nil {
		return fail(&WriteError{Path: m.Path, Err: err})
	}
	if err := fill(f); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(&WriteError{Path: m.Path, Err: err})
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &WriteError{Path: m.Path, Err: err}
	}
	if err := os.Rename(tmp.Name(), m.Path); err != nil {
		os.Remove(tmp.Name())
		return &WriteError{Path: m.Path, Err: err}
	}
	return nil
}

// appendVariable rewrites the dataset with variable v added, and returns
// the reopened dataset. If it fails, ds is returned unchanged.
func (m *Materializer) appendVariable(ctx context.Context, ds *Dataset, src Source, v string, lay layout) (*Dataset, error) {
	old := ds.f.Header
	g := ds.Grid
	dims := []string{g.TimeDim, g.YDim, g.XDim}
	h := cdf.NewHeader(dims, []int{g.NT, g.NY, g.NX})
	existing := old.Variables()
	for _, name := range existing {
		h.AddVariable(name, old.Dimensions(name), typeOf(old.ZeroValue(name, 0)).prototype())
		addAttributes(h, name, headerAttributes(old, name))
	}
	addAttributes(h, "", headerAttributes(old, ""))
	h.AddVariable(v, dims, src.Type(v).prototype())
	addAttributes(h, v, m.references(src.Attributes(v), existing))
	h.Define()

	err := m.replace(h, func(f *cdf.File) error {
		for _, name := range existing {
			if err := copyVariable(ds, f, name); err != nil {
				return &TransferError{Variable: v, Step: StepAppend, Err: &WriteError{Path: m.Path, Err: err}}
			}
		}
		lengths := h.Lengths(v)
		for t := 0; t < g.NT; t++ {
			if err := ctx.Err(); err != nil {
				return &TransferError{Variable: v, Step: StepFetch, Err: err}
			}
			vals, err := src.ReadLevel(v, t, m.Level)
			if err != nil {
				return &TransferError{Variable: v, Step: StepFetch, Err: err}
			}
			if err := writeRecord(f, v, lengths, t, vals); err != nil {
				return &TransferError{Variable: v, Step: StepAppend, Err: &WriteError{Path: m.Path, Err: err}}
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*WriteError); ok {
			err = &TransferError{Variable: v, Step: StepAppend, Err: err}
		}
		return ds, err
	}
	ds.Close()
	nds, err := OpenDataset(m.Path)
	if err != nil {
		// The old file has been replaced, so there is nothing to fall back to.
		return nil, &TransferError{Variable: v, Step: StepAppend, Err: err}
	}
	return nds, nil
}

// references removes names that are not present in the dataset from the
// coordinates and grid_mapping attributes.
func (m *Materializer) references(attrs Attributes, present []string) Attributes {
	have := make(map[string]bool)
	for _, p := range present {
		have[p] = true
	}
	if c, ok := attrs.Get("coordinates"); ok {
		s, _ := c.(string)
		var keep []string
		for _, n := range strings.Fields(s) {
			if have[n] {
				keep = append(keep, n)
			}
		}
		if len(keep) == 0 {
			attrs = attrs.Without("coordinates")
		} else {
			attrs = attrs.Set("coordinates", strings.Join(keep, " "))
		}
	}
	if gm := attrs.String("grid_mapping"); gm != "" && !have[gm] {
		attrs = attrs.Without("grid_mapping")
	}
	return attrs
}

// copyVariable copies variable v from ds to f, one time step at a time for
// data variables.
func copyVariable(ds *Dataset, f *cdf.File, v string) error {
	lengths := ds.f.Header.Lengths(v)
	if !ds.Has(v) {
		vals, err := readWhole(ds.f, v, lengths)
		if err != nil {
			return err
		}
		return writeWhole(f, v, lengths, vals)
	}
	for t := 0; t < ds.Grid.NT; t++ {
		vals, err := readRecord(ds.f, v, lengths, t)
		if err != nil {
			return err
		}
		if err := writeRecord(f, v, lengths, t, vals); err != nil {
			return err
		}
	}
	return nil
}
