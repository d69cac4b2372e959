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
	"reflect"
	"strings"

	"github.com/ctessum/cdf"
)

// DataType is a NetCDF classic element type.
type DataType int

// The NetCDF classic element types.
const (
	Byte DataType = iota + 1
	Char
	Short
	Int
	Float
	Double
)

func (d DataType) String() string {
	switch d {
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	}
	return "invalid"
}

// prototype returns a value whose dynamic type declares d to
// cdf.Header.AddVariable.
func (d DataType) prototype() interface{} {
	switch d {
	case Byte:
		return []uint8{}
	case Char:
		return ""
	case Short:
		return []int16{}
	case Int:
		return []int32{}
	case Float:
		return []float32{}
	default:
		return []float64{}
	}
}

// floating returns the element type used for means of d: floating point
// types are kept and integer types are promoted to Double.
func (d DataType) floating() DataType {
	if d == Float {
		return Float
	}
	return Double
}

// typeOf returns the element type of a slice as read from or written to
// a cdf.File.
func typeOf(vals interface{}) DataType {
	switch vals.(type) {
	case []uint8:
		return Byte
	case string:
		return Char
	case []int16:
		return Short
	case []int32:
		return Int
	case []float32:
		return Float
	case []float64:
		return Double
	}
	return 0
}

// goTypes maps Go element types to the NetCDF classic type that can hold
// them.
var goTypes = map[reflect.Kind]DataType{
	reflect.Int8:    Short,
	reflect.Uint8:   Byte,
	reflect.Int16:   Short,
	reflect.Uint16:  Int,
	reflect.Int32:   Int,
	reflect.Uint32:  Double,
	reflect.Int64:   Double,
	reflect.Uint64:  Double,
	reflect.Int:     Double,
	reflect.Float32: Float,
	reflect.Float64: Double,
	reflect.String:  Char,
}

// flatten returns the elements of a possibly nested slice in row-major
// order along with its shape.
func flatten(v interface{}) ([]reflect.Value, []int) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []reflect.Value{rv}, nil
	}
	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	var o []reflect.Value
	var walk func(reflect.Value)
	walk = func(x reflect.Value) {
		if x.Kind() != reflect.Slice {
			o = append(o, x)
			return
		}
		for i := 0; i < x.Len(); i++ {
			walk(x.Index(i))
		}
	}
	walk(rv)
	return o, shape
}

// storable converts arbitrary (possibly nested) numeric or string slices
// into the flat slice types accepted by cdf.File.
func storable(v interface{}) (interface{}, error) {
	if typeOf(v) != 0 {
		return v, nil
	}
	if s, ok := v.([]string); ok {
		return strings.Join(s, "\n"), nil
	}
	elems, _ := flatten(v)
	if len(elems) == 0 {
		return []float64{}, nil
	}
	dt, ok := goTypes[elems[0].Kind()]
	if !ok {
		return nil, fmt.Errorf("unsupported element type %v", elems[0].Kind())
	}
	f := make([]float64, len(elems))
	for i, e := range elems {
		switch e.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f[i] = float64(e.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f[i] = float64(e.Uint())
		case reflect.Float32, reflect.Float64:
			f[i] = e.Float()
		case reflect.String:
			s := make([]string, len(elems))
			for j, ee := range elems {
				s[j] = ee.String()
			}
			return strings.Join(s, "\n"), nil
		default:
			return nil, fmt.Errorf("unsupported element type %v", e.Kind())
		}
	}
	return convert(f, dt), nil
}

// convert returns f as a slice of type d.
func convert(f []float64, d DataType) interface{} {
	switch d {
	case Byte:
		o := make([]uint8, len(f))
		for i, v := range f {
			o[i] = uint8(v)
		}
		return o
	case Short:
		o := make([]int16, len(f))
		for i, v := range f {
			o[i] = int16(v)
		}
		return o
	case Int:
		o := make([]int32, len(f))
		for i, v := range f {
			o[i] = int32(v)
		}
		return o
	case Float:
		o := make([]float32, len(f))
		for i, v := range f {
			o[i] = float32(v)
		}
		return o
	default:
		return f
	}
}

// float64s converts a cdf value slice to float64.
func float64s(vals interface{}) []float64 {
	switch v := vals.(type) {
	case []float64:
		return v
	case []float32:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o
	case []int32:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o
	case []int16:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o
	case []uint8:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o
	case float64:
		return []float64{v}
	case float32:
		return []float64{float64(v)}
	case int32:
		return []float64{float64(v)}
	case int16:
		return []float64{float64(v)}
	case uint8:
		return []float64{float64(v)}
	}
	return nil
}

// valueLen returns the number of elements of a cdf value slice.
func valueLen(vals interface{}) int {
	if s, ok := vals.(string); ok {
		return len(s)
	}
	return reflect.ValueOf(vals).Len()
}

// nan returns a NaN of element type d, for use as a fill value.
func nan(d DataType) interface{} {
	if d == Float {
		return []float32{float32(math.NaN())}
	}
	return []float64{math.NaN()}
}

// Attribute is a NetCDF attribute. Value is a string or a slice of
// uint8, int16, int32, float32 or float64.
type Attribute struct {
	Name  string
	Value interface{}
}

// Attributes is an ordered list of attributes.
type Attributes []Attribute

// Get returns the value of the named attribute.
func (a Attributes) Get(name string) (interface{}, bool) {
	for _, at := range a {
		if at.Name == name {
			return at.Value, true
		}
	}
	return nil, false
}

// String returns the value of the named attribute if it is text.
func (a Attributes) String(name string) string {
	v, _ := a.Get(name)
	s, _ := v.(string)
	return s
}

// Without returns a copy of a without the named attributes.
func (a Attributes) Without(names ...string) Attributes {
	o := make(Attributes, 0, len(a))
loop:
	for _, at := range a {
		for _, n := range names {
			if at.Name == n {
				continue loop
			}
		}
		o = append(o, at)
	}
	return o
}

// Set returns a copy of a with the named attribute replaced or appended.
func (a Attributes) Set(name string, value interface{}) Attributes {
	o := make(Attributes, 0, len(a)+1)
	set := false
	for _, at := range a {
		if at.Name == name {
			at.Value = value
			set = true
		}
		o = append(o, at)
	}
	if !set {
		o = append(o, Attribute{Name: name, Value: value})
	}
	return o
}

// attributeValue converts an attribute value from any reader into the
// form stored by cdf. It returns false for values that can not be
// represented.
func attributeValue(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case string, []uint8, []int16, []int32, []float32, []float64:
		return x, true
	case float64:
		return []float64{x}, true
	case float32:
		return []float32{x}, true
	case int32:
		return []int32{x}, true
	case int16:
		return []int16{x}, true
	case int8:
		return []int16{int16(x)}, true
	case uint8:
		return []uint8{x}, true
	case int64:
		return []float64{float64(x)}, true
	case int:
		return []int32{int32(x)}, true
	}
	s, err := storable(v)
	if err != nil || s == nil || valueLen(s) == 0 {
		return nil, false
	}
	return s, true
}

// headerAttributes reads the attributes of variable v of h, or the global
// attributes if v is empty.
func headerAttributes(h *cdf.Header, v string) Attributes {
	names := h.Attributes(v)
	o := make(Attributes, 0, len(names))
	for _, n := range names {
		o = append(o, Attribute{Name: n, Value: h.GetAttribute(v, n)})
	}
	return o
}

// addAttributes adds attributes to variable v of the mutable header h.
// Attributes already present in h, and those whose value can not be
// stored, are skipped.
func addAttributes(h *cdf.Header, v string, attrs Attributes) {
	have := make(map[string]bool)
	for _, n := range h.Attributes(v) {
		have[n] = true
	}
	for _, a := range attrs {
		if have[a.Name] {
			continue
		}
		val, ok := attributeValue(a.Value)
		if !ok {
			continue
		}
		h.AddAttribute(v, a.Name, val)
		have[a.Name] = true
	}
}
