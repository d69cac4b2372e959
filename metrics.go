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

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an Observer that counts the work done by a run in a
// Prometheus registry. The registry can be written in the node exporter
// textfile format with WriteFile after the run.
type Metrics struct {
	Registry *prometheus.Registry

	variables *prometheus.CounterVec
	bytes     prometheus.Counter
	groups    *prometheus.CounterVec
	lastRun   prometheus.Gauge
	duration  prometheus.Gauge
	started   time.Time

	// done is the number of bytes reported by the current transfer.
	done int64
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		variables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgcagg",
			Name:      "variables_total",
			Help:      "Variables processed by the materializer, by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgcagg",
			Name:      "transfer_bytes_total",
			Help:      "Bytes transferred from remote sources.",
		}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgcagg",
			Name:      "groups_written_total",
			Help:      "Aggregation outputs written, by group.",
		}, []string{"group"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bgcagg",
			Name:      "last_run_timestamp_seconds",
			Help:      "Time the last run finished.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bgcagg",
			Name:      "last_run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
		started: time.Now(),
	}
	m.Registry.MustRegister(m.variables, m.bytes, m.groups, m.lastRun, m.duration)
	return m
}

func (m *Metrics) VariableStarted(string, int, int) {}

func (m *Metrics) VariableSkipped(string) {
	m.variables.WithLabelValues("skipped").Inc()
}

func (m *Metrics) VariableDone(string) {
	m.variables.WithLabelValues("fetched").Inc()
}

// Progress counts the bytes transferred since the previous report. A
// report below the previous one starts a new transfer.
func (m *Metrics) Progress(count, unit, total int64) {
	done := count * unit
	if total >= 0 && done > total {
		done = total
	}
	if done < m.done {
		m.done = 0
	}
	m.bytes.Add(float64(done - m.done))
	m.done = done
}

func (m *Metrics) GroupWritten(group, _ string) {
	m.groups.WithLabelValues(group).Inc()
}

// WriteFile records the run duration and writes the registry to
// filename in the node exporter textfile format.
func (m *Metrics) WriteFile(filename string) error {
	now := time.Now()
	m.lastRun.Set(float64(now.Unix()))
	m.duration.Set(now.Sub(m.started).Seconds())
	return prometheus.WriteToTextfile(filename, m.Registry)
}
