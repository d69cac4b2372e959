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

// Package hash computes stable fingerprints of configuration values.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// printer formats values that gob can not encode.
var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Fingerprint returns a hex key identifying parts. Equal parts give equal
// keys across runs, so the key can be stored in a file and compared
// later. Parts are encoded with gob, or with spew if gob can not encode
// them (e.g., structs without exported fields).
func Fingerprint(parts ...interface{}) string {
	h := fnv.New128a()
	for i, p := range parts {
		fmt.Fprintf(h, "%d:", i)
		if err := gob.NewEncoder(h).Encode(p); err != nil {
			printer.Fprintf(h, "%#v", p)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
