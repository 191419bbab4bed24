package observability

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const queueDepthReadTimeout = 2 * time.Second

// MetricsHandler serves /metrics. A collector that fails to read, such as the queue
// depth during a Redis outage, is skipped instead of failing the whole scrape.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	handler := promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	return adaptor.HTTPHandler(handler)
}

// QueueDepth counts the jobs of one queue per state.
type QueueDepth struct {
	Waiting int64
	Active  int64
	Delayed int64
	Failed  int64
}

// QueueDepthFunc reads the current depth of a queue.
type QueueDepthFunc func(ctx context.Context) (QueueDepth, error)

type queueDepthCollector struct {
	desc *prometheus.Desc
	read QueueDepthFunc
}

// RegisterQueueDepth exports souffle_queue_depth for the named queue, read on every
// scrape. Registering the same queue twice is a no-op.
func RegisterQueueDepth(queueName string, read QueueDepthFunc) error {
	collector := &queueDepthCollector{
		desc: prometheus.NewDesc(
			"souffle_queue_depth",
			"Jobs per state at scrape time.",
			[]string{"state"},
			prometheus.Labels{"queue": queueName},
		),
		read: read,
	}

	err := prometheus.Register(collector)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

func (c *queueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), queueDepthReadTimeout)
	defer cancel()

	depth, err := c.read(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depth.Waiting), "waiting")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depth.Active), "active")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depth.Delayed), "delayed")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depth.Failed), "failed")
}
