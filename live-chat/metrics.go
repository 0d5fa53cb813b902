package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	rejectDecode = "decode"
	rejectEmpty  = "empty"
)

var (
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_chat_subscribers",
		Help: "Current number of websocket subscribers.",
	})

	messagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_chat_messages_published_total",
		Help: "Total number of chat messages fanned out to subscribers.",
	})

	// messagesRejected counts inbound frames that never reached the hub, by reason.
	messagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_chat_messages_rejected_total",
		Help: "Total number of inbound frames rejected, by reason.",
	}, []string{"reason"})

	subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_chat_subscribers_dropped_total",
		Help: "Total number of subscribers dropped after a failed write.",
	})

	historyRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_chat_history_requests_total",
		Help: "Total number of /history requests served.",
	})
)
