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

package hash

import "testing"

func TestFingerprint(t *testing.T) {
	a := Fingerprint("https://example.org/data.nc", 44, 3.0)
	if len(a) != 32 {
		t.Errorf("fingerprint %q has length %d, want 32", a, len(a))
	}
	if b := Fingerprint("https://example.org/data.nc", 44, 3.0); a != b {
		t.Errorf("fingerprint not stable: %s != %s", a, b)
	}
	for _, parts := range [][]interface{}{
		{"https://example.org/other.nc", 44, 3.0},
		{"https://example.org/data.nc", 43, 3.0},
		{"https://example.org/data.nc", 44, 5.55},
		{"https://example.org/data.nc", 44},
	} {
		if b := Fingerprint(parts...); a == b {
			t.Errorf("fingerprint of %v collides with original", parts)
		}
	}
}

func TestFingerprint_fallback(t *testing.T) {
	type unexported struct{ x float64 }
	a, b := Fingerprint(unexported{1.5}), Fingerprint(unexported{1.5})
	if a != b {
		t.Errorf("fallback fingerprint not stable: %s != %s", a, b)
	}
	if c := Fingerprint(unexported{2.5}); a == c {
		t.Errorf("fallback fingerprint ignores field values")
	}
}
