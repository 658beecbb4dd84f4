package photowall

import "github.com/VictoriaMetrics/metrics"

type pipelineMetrics struct {
	memoryHits       *metrics.Counter
	memoryMisses     *metrics.Counter
	diskHits         *metrics.Counter
	tasksCreated     *metrics.Counter
	tasksCancelled   *metrics.Counter
	resultsDiscarded *metrics.Counter
	staleResults     *metrics.Counter
	duplicateResults *metrics.Counter
	downloads        *metrics.Counter
	downloadFailures *metrics.Counter
	decodeFailures   *metrics.Counter
	editConflicts    *metrics.Counter
	fetchDuration    *metrics.Histogram
}

func newPipelineMetrics(set *metrics.Set) *pipelineMetrics {
	return &pipelineMetrics{
		memoryHits:       set.NewCounter("thumbwall_memory_hits_total"),
		memoryMisses:     set.NewCounter("thumbwall_memory_misses_total"),
		diskHits:         set.NewCounter("thumbwall_disk_hits_total"),
		tasksCreated:     set.NewCounter("thumbwall_tasks_created_total"),
		tasksCancelled:   set.NewCounter("thumbwall_tasks_cancelled_total"),
		resultsDiscarded: set.NewCounter("thumbwall_results_discarded_total"),
		staleResults:     set.NewCounter("thumbwall_stale_results_total"),
		duplicateResults: set.NewCounter("thumbwall_duplicate_results_total"),
		downloads:        set.NewCounter("thumbwall_downloads_total"),
		downloadFailures: set.NewCounter("thumbwall_download_failures_total"),
		decodeFailures:   set.NewCounter("thumbwall_decode_failures_total"),
		editConflicts:    set.NewCounter("thumbwall_disk_edit_conflicts_total"),
		fetchDuration:    set.NewHistogram("thumbwall_fetch_duration_seconds"),
	}
}
