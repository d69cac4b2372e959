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

// Package bgcagg extracts a single depth level of a gridded ocean
// biogeochemistry time series (such as the eReefs GBR4 BGC monthly
// product) into a local NetCDF file, one variable at a time, and reduces
// it to all-time and seasonal mean fields.
//
// The pipeline is made of small parts that can be used on their own:
// a DepthTable resolves a depth to a vertical level index, a
// Materializer copies that level of each variable from a Source into a
// local Dataset, a Window trims the time axis to whole calendar periods,
// Classify splits the time axis into seasons, Aggregate computes
// skip-missing means, and WriteResult writes them atomically.
package bgcagg

// Version gives the version number.
const Version = "1.0.0"

// Global attributes written by this package. They are used to
// recognise and validate datasets created by an earlier run.
const (
	attrFingerprint = "bgcagg_fingerprint"
	attrDepth       = "bgcagg_depth"
	attrLevel       = "bgcagg_level"
	attrGridDims    = "bgcagg_dims"
	attrShape       = "bgcagg_grid_shape"
	attrSource      = "bgcagg_source"
	attrGroup       = "bgcagg_group"
	attrTimeStart   = "bgcagg_time_start"
	attrTimeEnd     = "bgcagg_time_end"
	attrSamples     = "bgcagg_samples"
	attrVariables   = "bgcagg_variables"
	attrRun         = "bgcagg_run"
	attrPrefix      = "bgcagg_"
)
