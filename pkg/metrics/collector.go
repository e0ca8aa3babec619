package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// RuntimeCollector samples Go runtime gauges on a fixed interval.
type RuntimeCollector struct {
	logger   *logrus.Logger
	interval time.Duration
	stopChan chan struct{}
}

// StartRuntimeCollector begins periodic runtime sampling. The returned
// collector keeps sampling until Stop is called.
func StartRuntimeCollector(logger *logrus.Logger, interval time.Duration) *RuntimeCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	collector := &RuntimeCollector{
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}

	go collector.run()
	return collector
}

func (c *RuntimeCollector) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *RuntimeCollector) collect() {
	if !metricsEnabled {
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if SystemMemoryUsage != nil {
		SystemMemoryUsage.Set(float64(m.Alloc))
	}
	if SystemGoroutines != nil {
		SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	}
}

// Stop ends runtime sampling.
func (c *RuntimeCollector) Stop() {
	close(c.stopChan)
}
