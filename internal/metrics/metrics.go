package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsSaved counts attendance records written, by path.
	RecordsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "attendance_records_saved_total",
		Help:      "Attendance records upserted, labelled by write path.",
	}, []string{"path"})

	// Conflicts counts marking attempts by conflict classification.
	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "attendance_conflicts_total",
		Help:      "Conflict detector outcomes.",
	}, []string{"kind"})

	// Resolutions counts overwrite requests resolved, by decision.
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "overwrite_resolutions_total",
		Help:      "Overwrite requests approved or denied.",
	}, []string{"decision"})

	// NotificationEvents counts events processed by the worker.
	NotificationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "notification_events_total",
		Help:      "Notification events consumed by the worker.",
	}, []string{"type", "result"})
)
