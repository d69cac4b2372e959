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
	"math"
	"reflect"
	"testing"
)

func TestStorable(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{name: "flat", in: []float32{1, 2}, want: []float32{1, 2}},
		{name: "nested", in: [][]float32{{1, 2}, {3, 4}}, want: []float32{1, 2, 3, 4}},
		{name: "int64", in: [][]int64{{1}, {2}}, want: []float64{1, 2}},
		{name: "int8", in: []int8{-1, 3}, want: []int16{-1, 3}},
		{name: "uint16", in: []uint16{7}, want: []int32{7}},
		{name: "scalar", in: 2.5, want: []float64{2.5}},
		{name: "strings", in: []string{"a", "b"}, want: "a\nb"},
		{name: "empty", in: [][]float64{}, want: []float64{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			have, err := storable(test.in)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(have, test.want) {
				t.Errorf("have %#v, want %#v", have, test.want)
			}
		})
	}
	for _, bad := range []interface{}{nil, []bool{true}, struct{}{}} {
		if _, err := storable(bad); err == nil {
			t.Errorf("%#v should not be storable", bad)
		}
	}
}

func TestNestedShape(t *testing.T) {
	v := make([][][]int16, 2)
	for i := range v {
		v[i] = make([][]int16, 3)
		for j := range v[i] {
			v[i][j] = make([]int16, 4)
		}
	}
	if have, want := nestedShape(v), []int{2, 3, 4}; !reflect.DeepEqual(have, want) {
		t.Errorf("have %v, want %v", have, want)
	}
	if have := nestedShape(3.0); have != nil {
		t.Errorf("scalar: have %v", have)
	}
}

func TestConvert(t *testing.T) {
	f := []float64{1.5, -2, 300}
	tests := map[DataType]interface{}{
		Short:  []int16{1, -2, 300},
		Int:    []int32{1, -2, 300},
		Float:  []float32{1.5, -2, 300},
		Double: []float64{1.5, -2, 300},
	}
	for d, want := range tests {
		have := convert(f, d)
		if !reflect.DeepEqual(have, want) {
			t.Errorf("%v: have %v, want %v", d, have, want)
		}
		if back := float64s(have); back[1] != -2 || back[2] != 300 {
			t.Errorf("%v: float64s gives %v", d, back)
		}
	}
	if have := convert([]float64{0, 7, 255}, Byte); !reflect.DeepEqual(have, []uint8{0, 7, 255}) {
		t.Errorf("byte: have %v", have)
	}
}

func TestDataType(t *testing.T) {
	if Short.floating() != Double || Float.floating() != Float || Double.floating() != Double {
		t.Error("wrong floating types")
	}
	for _, d := range []DataType{Byte, Char, Short, Int, Float, Double} {
		if typeOf(d.prototype()) != d {
			t.Errorf("%v: prototype has type %v", d, typeOf(d.prototype()))
		}
	}
	if s := DataType(0).String(); s != "invalid" {
		t.Errorf("have %s", s)
	}
	if f, ok := nan(Float).([]float32); !ok || !math.IsNaN(float64(f[0])) {
		t.Errorf("float NaN: have %v", nan(Float))
	}
}

func TestAttributes(t *testing.T) {
	a := Attributes{
		{Name: "units", Value: "mg m-3"},
		{Name: "_FillValue", Value: []float32{-999}},
	}
	if a.String("units") != "mg m-3" || a.String("_FillValue") != "" || a.String("missing") != "" {
		t.Error("wrong String values")
	}
	b := a.Set("units", "mmol m-3").Set("cell_methods", "time: mean")
	if a.String("units") != "mg m-3" {
		t.Error("Set modified the original")
	}
	if b.String("units") != "mmol m-3" || b[2].Name != "cell_methods" || len(b) != 3 {
		t.Errorf("have %v", b)
	}
	c := b.Without("units", "cell_methods")
	if len(c) != 1 || c[0].Name != "_FillValue" || len(b) != 3 {
		t.Errorf("have %v", c)
	}
}

func TestAttributeValue(t *testing.T) {
	tests := []struct {
		in, want interface{}
	}{
		{in: "text", want: "text"},
		{in: float64(1), want: []float64{1}},
		{in: float32(1), want: []float32{1}},
		{in: int8(-3), want: []int16{-3}},
		{in: int64(5), want: []float64{5}},
		{in: []int64{1, 2}, want: []float64{1, 2}},
	}
	for _, test := range tests {
		have, ok := attributeValue(test.in)
		if !ok || !reflect.DeepEqual(have, test.want) {
			t.Errorf("%#v: have %#v, want %#v", test.in, have, test.want)
		}
	}
	for _, bad := range []interface{}{nil, []int64{}, true} {
		if _, ok := attributeValue(bad); ok {
			t.Errorf("%#v should not be accepted", bad)
		}
	}
}
