// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RouteTotal counts routed statements by route engine.
	RouteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmerge_route_total",
			Help: "Total number of routed statements",
		},
		[]string{"engine"},
	)
	// ShardFanout is the number of route units of a statement.
	ShardFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardmerge_shard_fanout",
			Help:    "Route units per statement",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
	)
	// MergedRows counts the rows served to clients by merger.
	MergedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmerge_merged_rows_total",
			Help: "Total number of merged rows served",
		},
		[]string{"merger"},
	)
	// ShardErrors counts failed shard statements by data source.
	ShardErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardmerge_shard_errors_total",
			Help: "Total number of failed shard statements",
		},
		[]string{"data_source"},
	)
	// QueryDuration is the latency of client statements by kind.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardmerge_query_duration_seconds",
			Help:    "Statement latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "status"},
	)
	// OpenCursors is the number of cursors held by live sessions.
	OpenCursors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shardmerge_open_cursors",
			Help: "Cursors held by live sessions",
		},
	)
)

func ObserveQuery(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	QueryDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
