package estimate

import "log"

// LogObserver writes batch and run events to the standard logger.
type LogObserver struct{}

func (LogObserver) BatchCompleted(ev BatchEvent) {
	if ev.Err != nil {
		log.Printf("ERROR: batch %d of run %s failed after %s: %v", ev.Index, ev.RunID, ev.Duration, ev.Err)
		return
	}
	log.Printf("INFO: processed batch %d of run %s: %d requests (%d ok, %d failed) for %d roofs in %s",
		ev.Index, ev.RunID, ev.Size, ev.Succeeded, ev.Failed, ev.Waiters, ev.Duration)
}

func (LogObserver) RunCompleted(sum RunSummary) {
	if sum.Err != "" {
		log.Printf("ERROR: run %s aborted after %d batches: %s", sum.ID, sum.Batches, sum.Err)
		return
	}
	log.Printf("INFO: run %s finished in %.2fmin: %d roofs, %d requests, %d cache hits, %d batches, %d null roofs",
		sum.ID, sum.Duration.Minutes(), sum.Roofs, sum.Requests, sum.CacheHits, sum.Batches, sum.NullRoofs)
}
