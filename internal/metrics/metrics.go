// Package metrics exposes the bridge's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Rescans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdhrbridge_rescans_total",
		Help: "Device rescans performed.",
	})
	DevicesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hdhrbridge_devices",
		Help: "Tuner devices currently tracked.",
	})
	ChannelsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hdhrbridge_channels",
		Help: "Channels in the merged lineup.",
	})
	CoveringSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hdhrbridge_covering_devices",
		Help: "Devices in the last guide covering set.",
	})
	GuideEntriesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdhrbridge_guide_entries_inserted_total",
		Help: "Guide entries inserted.",
	})
	GuideEntriesAged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdhrbridge_guide_entries_aged_total",
		Help: "Guide entries removed by the aging pass.",
	})
	GuideCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdhrbridge_guide_collisions_total",
		Help: "Entries dropped because another entry held the same start time with different fields.",
	})
	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hdhrbridge_recordings_active",
		Help: "Recording goroutines currently running.",
	})
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdhrbridge_jobs_finished_total",
		Help: "Recording jobs reaching a terminal state.",
	}, []string{"state"})
)
