package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckinDecisions counts check-in admission outcomes by decision label
// (accepted, conflict, window_closed, canceled, not_found).
var CheckinDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classtrack_checkin_decisions_total",
	Help: "Check-in admission decisions by outcome.",
}, []string{"decision"})

// ReportExports counts generated CSV exports.
var ReportExports = promauto.NewCounter(prometheus.CounterOpts{
	Name: "classtrack_report_exports_total",
	Help: "Attendance CSV exports generated.",
})

// IdentityLookupFailures counts degraded identity-provider batch lookups.
var IdentityLookupFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "classtrack_identity_lookup_failures_total",
	Help: "Identity-provider batch lookups that degraded to empty profiles.",
})
