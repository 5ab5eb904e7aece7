package ridemanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"cryptoRide/internal/custompromauto"
)

var (
	routedEvents = custompromauto.Auto().NewCounterVec(prometheus.CounterOpts{
		Name: "rideevents_routed_events_total",
		Help: "Total number of ride events routed, by kind",
	}, []string{"kind"})

	unknownTopics = custompromauto.Auto().NewCounter(prometheus.CounterOpts{
		Name: "rideevents_unknown_topics_total",
		Help: "Total number of logs whose topic0 matched no known event kind",
	})

	decodeFailures = custompromauto.Auto().NewCounter(prometheus.CounterOpts{
		Name: "rideevents_decode_failures_total",
		Help: "Total number of ride events whose payload failed to decode",
	})

	consumerFailures = custompromauto.Auto().NewCounter(prometheus.CounterOpts{
		Name: "rideevents_consumer_failures_total",
		Help: "Total number of consumer errors while handling routed ride events",
	})

	duplicateEvents = custompromauto.Auto().NewCounter(prometheus.CounterOpts{
		Name: "rideevents_duplicate_events_total",
		Help: "Total number of ride events dropped because they were already delivered",
	})
)
