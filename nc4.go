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
	"os"
	"reflect"
	"sync"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// hdfSource reads a NetCDF-4 (HDF5) file.
type hdfSource struct {
	nc api.Group

	mu      sync.Mutex
	getters map[string]api.VarGetter
	shapes  map[string][]int
	types   map[string]DataType
}

// openHDFSource opens the NetCDF-4 file at path.
func openHDFSource(path string) (*hdfSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newHDFSource(f, path)
}

// newHDFSource reads a NetCDF-4 file from f, which is closed with the
// source. Only the file metadata is read here; variable data is read
// when it is requested.
func newHDFSource(f api.ReadSeekerCloser, name string) (*hdfSource, error) {
	nc, err := netcdf.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %v", name, err)
	}
	return &hdfSource{
		nc:      nc,
		getters: make(map[string]api.VarGetter),
		shapes:  make(map[string][]int),
		types:   make(map[string]DataType),
	}, nil
}

func (s *hdfSource) getter(v string) (api.VarGetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.getters[v]; ok {
		return g, nil
	}
	g, err := s.nc.GetVarGetter(v)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %v", v, err)
	}
	s.getters[v] = g
	return g, nil
}

func (s *hdfSource) Variables() []string { return s.nc.ListVariables() }

func (s *hdfSource) Dimensions(v string) []string {
	g, err := s.getter(v)
	if err != nil {
		return nil
	}
	return g.Dimensions()
}

// Shape returns the length of the outermost dimension from the variable
// itself and the inner lengths from the shape of its first record.
func (s *hdfSource) Shape(v string) []int {
	s.mu.Lock()
	shape, ok := s.shapes[v]
	s.mu.Unlock()
	if ok {
		return shape
	}
	g, err := s.getter(v)
	if err != nil || len(g.Dimensions()) == 0 {
		return nil
	}
	shape = []int{int(g.Len())}
	if shape[0] > 0 && len(g.Dimensions()) > 1 {
		first, err := g.GetSlice(0, 1)
		if err != nil {
			return nil
		}
		inner := nestedShape(first)
		if len(inner) > 1 {
			shape = append(shape, inner[1:]...)
		}
	}
	s.mu.Lock()
	s.shapes[v] = shape
	s.mu.Unlock()
	return shape
}

// nestedShape returns the lengths of a nested slice, following the first
// element of each level.
func nestedShape(v interface{}) []int {
	var shape []int
	for rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice; rv = rv.Index(0) {
		shape = append(shape, rv.Len())
		if rv.Len() == 0 {
			break
		}
	}
	return shape
}

func (s *hdfSource) Type(v string) DataType {
	s.mu.Lock()
	t, ok := s.types[v]
	s.mu.Unlock()
	if ok {
		return t
	}
	g, err := s.getter(v)
	if err != nil {
		return 0
	}
	var sample interface{}
	if len(g.Dimensions()) == 0 || g.Len() == 0 {
		sample, err = g.Values()
	} else {
		sample, err = g.GetSlice(0, 1)
	}
	if err != nil {
		return 0
	}
	vals, err := storable(sample)
	if err != nil {
		return 0
	}
	t = typeOf(vals)
	s.mu.Lock()
	s.types[v] = t
	s.mu.Unlock()
	return t
}

func (s *hdfSource) Attributes(v string) Attributes {
	var am api.AttributeMap
	if v == "" {
		am = s.nc.Attributes()
	} else {
		g, err := s.getter(v)
		if err != nil {
			return nil
		}
		am = g.Attributes()
	}
	if am == nil {
		return nil
	}
	var o Attributes
	for _, k := range am.Keys() {
		val, _ := am.Get(k)
		if a, ok := attributeValue(val); ok {
			o = append(o, Attribute{Name: k, Value: a})
		}
	}
	return o
}

func (s *hdfSource) ReadAll(v string) (interface{}, error) {
	g, err := s.getter(v)
	if err != nil {
		return nil, err
	}
	vals, err := g.Values()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", v, err)
	}
	return storable(vals)
}

func (s *hdfSource) ReadLevel(v string, t, level int) (interface{}, error) {
	shape := s.Shape(v)
	if len(shape) != 4 {
		return nil, fmt.Errorf("variable %s has %d dimensions, want 4", v, len(shape))
	}
	if t < 0 || t >= shape[0] || level < 0 || level >= shape[1] {
		return nil, fmt.Errorf("index (%d, %d) out of range for %s with shape %v", t, level, v, shape)
	}
	g, err := s.getter(v)
	if err != nil {
		return nil, err
	}
	rec, err := g.GetSlice(int64(t), int64(t)+1)
	if err != nil {
		return nil, fmt.Errorf("reading %s at time index %d: %v", v, t, err)
	}
	slab := reflect.ValueOf(rec).Index(0).Index(level).Interface()
	return storable(slab)
}

func (s *hdfSource) Close() error {
	s.nc.Close()
	return nil
}
