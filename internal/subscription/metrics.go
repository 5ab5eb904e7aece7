package subscription

import (
	"github.com/prometheus/client_golang/prometheus"

	"cryptoRide/internal/custompromauto"
)

var (
	framesReceived = custompromauto.Auto().NewCounterVec(prometheus.CounterOpts{
		Name: "rideevents_frames_received_total",
		Help: "Total number of transport frames handled by the subscription controller, by frame kind",
	}, []string{"kind"})

	framesDropped = custompromauto.Auto().NewCounterVec(prometheus.CounterOpts{
		Name: "rideevents_frames_dropped_total",
		Help: "Total number of text frames dropped because they did not parse in the current state",
	}, []string{"state"})

	ackTimeouts = custompromauto.Auto().NewCounter(prometheus.CounterOpts{
		Name: "rideevents_ack_timeouts_total",
		Help: "Total number of subscribe or unsubscribe replies that never arrived",
	})

	reconnects = custompromauto.Auto().NewCounter(prometheus.CounterOpts{
		Name: "rideevents_reconnects_total",
		Help: "Total number of successful transport redials",
	})

	stateGauge = custompromauto.Auto().NewGauge(prometheus.GaugeOpts{
		Name: "rideevents_subscription_state",
		Help: "Current subscription controller state (0 idle, 1 not subscribed, 2 subscribed, 3 unsubscribing, 4 closed, 5 failed)",
	})
)
