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

import "fmt"

// Steps at which a TransferError can occur.
const (
	StepFetch  = "fetch"
	StepAppend = "append"
)

// ConfigurationError reports an invalid or inconsistent setting. It is
// returned before any data is transferred or written.
type ConfigurationError struct {
	// Setting is the name of the offending setting.
	Setting string
	Msg     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bgcagg: invalid %s: %s", e.Setting, e.Msg)
}

// TransferError reports a failure while fetching a variable from its
// source or while appending it to the local dataset. The local dataset
// still holds every variable that was appended before the failure.
type TransferError struct {
	Variable string
	// Step is StepFetch or StepAppend.
	Step string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("bgcagg: %s of variable %s failed: %v", e.Step, e.Variable, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// EmptyRangeError reports that no time steps were selected for an
// aggregation group.
type EmptyRangeError struct {
	Group string
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("bgcagg: no time steps selected for group %q", e.Group)
}

// WriteError reports a failure to persist a dataset. Whatever was at
// Path before the write is left in place.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("bgcagg: writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
