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
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// TimeAxis holds the decoded timestamps of a dataset, in the time zone
// given by the reference time of the dataset's units.
type TimeAxis []time.Time

// Ascending returns whether the timestamps never decrease.
func (a TimeAxis) Ascending() bool {
	for i := 1; i < len(a); i++ {
		if a[i].Before(a[i-1]) {
			return false
		}
	}
	return true
}

var timeUnits = map[string]time.Duration{
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
	"d":       24 * time.Hour,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"hrs":     time.Hour,
	"hr":      time.Hour,
	"h":       time.Hour,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"mins":    time.Minute,
	"min":     time.Minute,
	"seconds": time.Second,
	"second":  time.Second,
	"secs":    time.Second,
	"sec":     time.Second,
	"s":       time.Second,
}

// maxDays bounds the offsets accepted from a reference time.
const maxDays = 1e8

// gregorianStart is the first day of the Gregorian calendar in the
// standard calendar. Earlier reference dates are Julian dates.
var gregorianStart = time.Date(1582, time.October, 15, 0, 0, 0, 0, time.UTC)

// DecodeTime converts CF time coordinate values such as
// "days since 1990-01-01 00:00:00 +10" into timestamps. Only the
// standard (mixed Gregorian) calendar and its proleptic variant are
// supported; monthly data in other calendars would be assigned to the
// wrong months. Timestamps before 1582-10-15 are given in the proleptic
// Gregorian calendar.
func DecodeTime(values []float64, units, calendar string) (TimeAxis, error) {
	var mixed bool
	switch strings.ToLower(calendar) {
	case "", "standard", "gregorian":
		mixed = true
	case "proleptic_gregorian":
	default:
		return nil, &ConfigurationError{Setting: "time calendar",
			Msg: fmt.Sprintf("calendar %q is not supported", calendar)}
	}
	unit, ref, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	if mixed && ref.Before(gregorianStart) {
		ref = julianToGregorian(ref)
	}
	a := make(TimeAxis, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ConfigurationError{Setting: "time coordinate",
				Msg: fmt.Sprintf("value %d is %v", i, v)}
		}
		// Whole days are added as dates so that offsets of more than
		// the ~292 years a time.Duration holds are not truncated.
		secs := v * unit.Seconds()
		days := math.Floor(secs / 86400)
		if math.Abs(days) > maxDays {
			return nil, &ConfigurationError{Setting: "time coordinate",
				Msg: fmt.Sprintf("value %d (%v %s) is out of range", i, v, strings.Fields(units)[0])}
		}
		rem := time.Duration(math.Round((secs - days*86400) * float64(time.Second)))
		a[i] = ref.AddDate(0, 0, int(days)).Add(rem)
	}
	return a, nil
}

// julianToGregorian returns the proleptic Gregorian time of the Julian
// calendar date and clock time in t.
func julianToGregorian(t time.Time) time.Time {
	y, m, d := t.Date()
	a := (14 - int(m)) / 12
	yy := y + 4800 - a
	mm := int(m) + 12*a - 3
	jdn := d + (153*mm+2)/5 + 365*yy + yy/4 - 32083
	const unixJDN = 2440588
	return time.Date(1970, time.January, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).
		AddDate(0, 0, jdn-unixJDN)
}

func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, &ConfigurationError{Setting: "time units",
			Msg: fmt.Sprintf("%q is not of the form '<unit> since <time>'", units)}
	}
	unit, ok := timeUnits[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return 0, time.Time{}, &ConfigurationError{Setting: "time units",
			Msg: fmt.Sprintf("unsupported unit %q", parts[0])}
	}
	ref, err := parseReference(parts[1])
	if err != nil {
		return 0, time.Time{}, &ConfigurationError{Setting: "time units",
			Msg: fmt.Sprintf("reference time %q: %v", parts[1], err)}
	}
	return unit, ref, nil
}

// parseReference parses the loose date formats found in CF units
// ("1990-1-1", "1990-01-01 00:00:00 +10", "1990-01-01T00:00:00Z") by
// normalising them to ISO 8601.
func parseReference(ref string) (time.Time, error) {
	fields := strings.Fields(ref)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty reference time")
	}
	if dt := strings.SplitN(fields[0], "T", 2); len(dt) == 2 {
		fields = append([]string{dt[0], dt[1]}, fields[1:]...)
	}
	date, clock, zone := fields[0], "00:00:00", ""
	if len(fields) > 1 {
		clock = fields[1]
	}
	if len(fields) > 2 {
		zone = fields[2]
	}
	if i := strings.IndexAny(clock, "+-Z"); i >= 0 {
		clock, zone = clock[:i], clock[i:]
	}

	d := strings.Split(date, "-")
	if len(d) != 3 {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	date = pad(d[0], 4) + "-" + pad(d[1], 2) + "-" + pad(d[2], 2)

	c := strings.Split(clock, ":")
	for len(c) < 3 {
		c = append(c, "0")
	}
	sec := strings.SplitN(c[2], ".", 2)
	clock = pad(c[0], 2) + ":" + pad(c[1], 2) + ":" + pad(sec[0], 2)
	if len(sec) == 2 {
		clock += "." + sec[1]
	}

	z, err := normaliseZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	t, err := iso8601.ParseString(date + "T" + clock + z)
	if err != nil {
		return time.Time{}, err
	}
	_, offset := t.Zone()
	if offset == 0 {
		return t.UTC(), nil
	}
	return t.In(time.FixedZone(z, offset)), nil
}

func normaliseZone(zone string) (string, error) {
	switch strings.ToUpper(zone) {
	case "", "Z", "UTC", "GMT":
		return "Z", nil
	}
	if zone[0] != '+' && zone[0] != '-' {
		return "", fmt.Errorf("invalid time zone %q", zone)
	}
	sign, z := zone[:1], zone[1:]
	var h, m string
	switch {
	case strings.Contains(z, ":"):
		hm := strings.SplitN(z, ":", 2)
		h, m = hm[0], hm[1]
	case len(z) > 2:
		h, m = z[:len(z)-2], z[len(z)-2:]
	default:
		h, m = z, "00"
	}
	return sign + pad(h, 2) + ":" + pad(m, 2), nil
}

func pad(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}
