// Copyright 2025 Hivemind Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@hivemindlabs.io
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the indexing instrumentation. All fields are optional on
// the Pipeline; a nil Metrics disables collection.
type Metrics struct {
	FilesIndexed  prometheus.Counter
	ParseErrors   prometheus.Counter
	WatchEvents   *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	BuildDuration prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FilesIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "hivemind_files_indexed_total",
			Help: "Markdown files parsed and admitted during builds.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hivemind_parse_errors_total",
			Help: "Files that failed to parse.",
		}),
		WatchEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_watch_events_total",
			Help: "Debounced file-change events applied, by kind.",
		}, []string{"kind"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemind_tool_calls_total",
			Help: "MCP tool invocations, by tool name.",
		}, []string{"tool"}),
		BuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hivemind_build_duration_seconds",
			Help:    "Wall time of full index builds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) observeBuild(seconds float64, indexed, parseErrors int) {
	if m == nil {
		return
	}
	m.BuildDuration.Observe(seconds)
	m.FilesIndexed.Add(float64(indexed))
	m.ParseErrors.Add(float64(parseErrors))
}

func (m *Metrics) countWatchEvent(kind string) {
	if m == nil {
		return
	}
	m.WatchEvents.WithLabelValues(kind).Inc()
}
