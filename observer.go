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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// An Observer is notified of the progress of a run. Implementations must
// not block for long; the pipeline calls them synchronously.
type Observer interface {
	// VariableStarted is called before variable index (of total) is
	// fetched.
	VariableStarted(name string, index, total int)

	// VariableSkipped is called for variables that are already present
	// in the local dataset.
	VariableSkipped(name string)

	// VariableDone is called after a variable has been appended to the
	// local dataset.
	VariableDone(name string)

	// Progress is called after each unit of a transfer. count is the
	// number of units transferred so far, unit is the size of a unit in
	// bytes and total is the size of the transfer in bytes, or a
	// negative number if it is unknown.
	Progress(count, unit, total int64)

	// GroupWritten is called after the output of an aggregation group
	// has been written.
	GroupWritten(group, path string)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) VariableStarted(string, int, int) {}
func (NopObserver) VariableSkipped(string)           {}
func (NopObserver) VariableDone(string)              {}
func (NopObserver) Progress(int64, int64, int64)     {}
func (NopObserver) GroupWritten(string, string)      {}

// Observers passes notifications to each of its members in order.
type Observers []Observer

func (o Observers) VariableStarted(name string, index, total int) {
	for _, ob := range o {
		ob.VariableStarted(name, index, total)
	}
}

func (o Observers) VariableSkipped(name string) {
	for _, ob := range o {
		ob.VariableSkipped(name)
	}
}

func (o Observers) VariableDone(name string) {
	for _, ob := range o {
		ob.VariableDone(name)
	}
}

func (o Observers) Progress(count, unit, total int64) {
	for _, ob := range o {
		ob.Progress(count, unit, total)
	}
}

func (o Observers) GroupWritten(group, path string) {
	for _, ob := range o {
		ob.GroupWritten(group, path)
	}
}

// LogObserver writes notifications to a logger. Transfer progress is
// logged at most once per Interval, and always when a transfer
// completes.
type LogObserver struct {
	Log      logrus.FieldLogger
	Interval time.Duration

	variable string
	started  time.Time
	last     time.Time
}

// NewLogObserver returns a LogObserver that logs progress every ten
// seconds.
func NewLogObserver(log logrus.FieldLogger) *LogObserver {
	return &LogObserver{Log: log, Interval: 10 * time.Second}
}

func (l *LogObserver) VariableStarted(name string, index, total int) {
	l.variable = name
	l.started = time.Now()
	l.Log.WithFields(logrus.Fields{
		"variable": name,
		"index":    index + 1,
		"total":    total,
	}).Info("fetching variable")
}

func (l *LogObserver) VariableSkipped(name string) {
	l.Log.WithField("variable", name).Info("variable already present, skipping")
}

func (l *LogObserver) VariableDone(name string) {
	l.Log.WithFields(logrus.Fields{
		"variable": name,
		"elapsed":  time.Since(l.started).Round(time.Millisecond),
	}).Info("variable saved")
	l.variable = ""
}

func (l *LogObserver) Progress(count, unit, total int64) {
	done := count * unit
	complete := total >= 0 && done >= total
	if !complete && time.Since(l.last) < l.Interval {
		return
	}
	l.last = time.Now()
	if total >= 0 && done > total {
		done = total
	}
	fields := logrus.Fields{"transferred": humanize.Bytes(uint64(done))}
	if l.variable != "" {
		fields["variable"] = l.variable
	}
	if total >= 0 {
		fields["total"] = humanize.Bytes(uint64(total))
		if total > 0 {
			fields["percent"] = humanize.FtoaWithDigits(100*float64(done)/float64(total), 1)
		}
	}
	l.Log.WithFields(fields).Info("transfer progress")
}

func (l *LogObserver) GroupWritten(group, path string) {
	l.Log.WithFields(logrus.Fields{"group": group, "path": path}).Info("wrote aggregate")
}
