package ingest

import (
	"context"
	"time"

	"newsfeed/internal/logger"
)

// StartPolling запускает Run с заданным интервалом, пока не отменён ctx.
// Следующий проход не начинается, пока не закончился предыдущий.
func StartPolling(ctx context.Context, runner *Runner, interval time.Duration) {
	log := logger.Log.WithFields(logger.Fields{
		"service":  "poller",
		"interval": interval.String(),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Starting new polling cycle")
			result, err := runner.Run(ctx)
			if err != nil {
				log.WithError(err).Error("Polling cycle failed")
				continue
			}
			for _, e := range result.Errors {
				log.WithField("source", e.Key).Warnf("Source failed: %s", e.Message)
			}

		case <-ctx.Done():
			log.Info("Stopping poller by context")
			return
		}
	}
}
