package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
	MailRenderFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_render_failure_total",
		Help: "Total number of template render failures",
	}, []string{"template"})

	// Queue metrics
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_queued_total",
		Help: "Total number of emails accepted into the send queue",
	}, []string{"host"})
	MailQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_queue_dropped_total",
		Help: "Total number of emails dropped by the send queue",
	}, []string{"host"})
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_sent_total",
		Help: "Total number of queued emails sent successfully",
	}, []string{"host"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_failed_total",
		Help: "Total number of queued emails that failed after all retries",
	}, []string{"host"})
	MailRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_mail_retry_scheduled_total",
		Help: "Total number of retries scheduled for queued emails",
	}, []string{"host"})

	// Outbox metrics
	OutboxPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_outbox_published_total",
		Help: "Total number of messages published to the outbox topic",
	}, []string{"topic"})
	OutboxPublishFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_outbox_publish_failure_total",
		Help: "Total number of failed outbox publishes",
	}, []string{"topic"})
	OutboxConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_outbox_consumed_total",
		Help: "Total number of messages consumed from the outbox topic",
	}, []string{"topic"})
	OutboxConsumeFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailtmpl_outbox_consume_failure_total",
		Help: "Total number of outbox messages that could not be decoded or sent",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailRenderFailure)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(MailRetryScheduled)
	prometheus.MustRegister(OutboxPublished)
	prometheus.MustRegister(OutboxPublishFailure)
	prometheus.MustRegister(OutboxConsumed)
	prometheus.MustRegister(OutboxConsumeFailure)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
