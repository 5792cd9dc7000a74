package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classrelay", Name: "events_total", Help: "Dispatched inbound events",
	})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classrelay", Name: "handler_errors_total", Help: "Event handler errors",
	})
	MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classrelay", Name: "messages_relayed_total", Help: "Chat messages relayed and recorded",
	})
	StaleRepliesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classrelay", Name: "stale_replies_dropped_total", Help: "Chatbot replies discarded by the staleness check",
	})
	ClassroomsArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classrelay", Name: "classrooms_archived_total", Help: "Classrooms whose transcripts were emailed at teardown",
	})
)

func init() {
	prometheus.MustRegister(EventsProcessed, HandlerErrors, MessagesRelayed, StaleRepliesDropped, ClassroomsArchived)
}

func Handler() http.Handler { return promhttp.Handler() }
