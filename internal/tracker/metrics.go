package tracker

import (
	"github.com/prometheus/client_golang/prometheus"

	"cryptoRide/internal/custompromauto"
)

var (
	activeRides = custompromauto.Auto().NewGauge(prometheus.GaugeOpts{
		Name: "rideevents_active_rides",
		Help: "Number of announced rides currently held in the journal",
	})

	retractedLogs = custompromauto.Auto().NewCounterVec(prometheus.CounterOpts{
		Name: "rideevents_retracted_logs_total",
		Help: "Total number of journal entries retracted by removed logs, by kind",
	}, []string{"kind"})

	lastBlock = custompromauto.Auto().NewGauge(prometheus.GaugeOpts{
		Name: "rideevents_last_block",
		Help: "Highest block number seen in a ride event",
	})
)
