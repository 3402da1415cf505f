//go:build prometheus

package connector

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector adapts a Connector's Stats to prometheus.Collector,
// mirroring the teacher's buffer_pool_prometheus.go pattern (a
// metrics-export file gated behind a build tag so the base module stays
// free of the prometheus dependency unless a caller opts in).
type PrometheusCollector struct {
	c *Connector

	opened        *prometheus.Desc
	open          *prometheus.Desc
	peak          *prometheus.Desc
	closed        *prometheus.Desc
	messagesIn    *prometheus.Desc
	messagesOut   *prometheus.Desc
	bytesIn       *prometheus.Desc
	bytesOut      *prometheus.Desc
	meanMessages  *prometheus.Desc
	meanDuration  *prometheus.Desc
}

// NewPrometheusCollector builds a prometheus.Collector exporting c's
// Stats snapshot on every scrape. Register it with a prometheus.Registry
// the way the caller already registers its other collectors.
func NewPrometheusCollector(c *Connector) *PrometheusCollector {
	labels := prometheus.Labels{"connector": c.Name()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("relay_connector_"+name, help, nil, labels)
	}
	return &PrometheusCollector{
		c:            c,
		opened:       desc("connections_opened_total", "Connections accepted since start."),
		open:         desc("connections_open", "Connections currently open."),
		peak:         desc("connections_open_peak", "Peak concurrent open connections."),
		closed:       desc("connections_closed_total", "Connections closed since start."),
		messagesIn:   desc("messages_in_total", "Requests received since start."),
		messagesOut:  desc("messages_out_total", "Responses sent since start."),
		bytesIn:      desc("bytes_in_total", "Bytes read from the wire since start."),
		bytesOut:     desc("bytes_out_total", "Bytes written to the wire since start."),
		meanMessages: desc("messages_per_connection_mean", "Running mean of messages per closed connection."),
		meanDuration: desc("connection_duration_seconds_mean", "Running mean connection lifetime in seconds."),
	}
}

func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.opened
	ch <- p.open
	ch <- p.peak
	ch <- p.closed
	ch <- p.messagesIn
	ch <- p.messagesOut
	ch <- p.bytesIn
	ch <- p.bytesOut
	ch <- p.meanMessages
	ch <- p.meanDuration
}

func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.c.Stats().Snapshot()
	ch <- prometheus.MustNewConstMetric(p.opened, prometheus.CounterValue, float64(snap.Opened))
	ch <- prometheus.MustNewConstMetric(p.open, prometheus.GaugeValue, float64(snap.Open))
	ch <- prometheus.MustNewConstMetric(p.peak, prometheus.GaugeValue, float64(snap.Peak))
	ch <- prometheus.MustNewConstMetric(p.closed, prometheus.CounterValue, float64(snap.Closed))
	ch <- prometheus.MustNewConstMetric(p.messagesIn, prometheus.CounterValue, float64(snap.MessagesIn))
	ch <- prometheus.MustNewConstMetric(p.messagesOut, prometheus.CounterValue, float64(snap.MessagesOut))
	ch <- prometheus.MustNewConstMetric(p.bytesIn, prometheus.CounterValue, float64(snap.BytesIn))
	ch <- prometheus.MustNewConstMetric(p.bytesOut, prometheus.CounterValue, float64(snap.BytesOut))
	ch <- prometheus.MustNewConstMetric(p.meanMessages, prometheus.GaugeValue, snap.MeanMessages)
	ch <- prometheus.MustNewConstMetric(p.meanDuration, prometheus.GaugeValue, snap.MeanDuration.Seconds())
}
