package queue

import (
	"time"

	"github.com/souffle-edu/souffle-api/internal/observability"
)

func observabilityJobOutcome(queueName, job, outcome string) {
	observability.QueueJobs().WithLabelValues(queueName, job, outcome).Inc()
}

func observabilityJobDuration(queueName, job string, elapsed time.Duration) {
	observability.QueueJobDuration().WithLabelValues(queueName, job).Observe(elapsed.Seconds())
}
