package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"
)

func writeMetric(w io.Writer, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "%s %g\n", name, v)
	default:
		fmt.Fprintf(w, "%s %d\n", name, v)
	}
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		sessions := deps.Sessions.List()
		var cacheSize, cacheHits, cacheMisses, written, dropped uint64
		for _, s := range sessions {
			cacheSize += uint64(s.Cache.Size)
			cacheHits += s.Cache.Hits
			cacheMisses += s.Cache.Misses
			written += s.Stream.Written
			dropped += s.Stream.Dropped
		}

		// Sessions.
		writeMetric(w, "monetrix_sessions_active", "gauge", "Number of live sessions.", len(sessions))
		writeMetric(w, "monetrix_sessions_total", "counter", "Total number of sessions opened.", metrics.SessionsTotal.Load())

		// Tools.
		writeMetric(w, "monetrix_tools_registered", "gauge", "Number of catalog tools.", len(deps.Catalog.Schemas()))
		writeMetric(w, "monetrix_tool_calls_total", "counter", "Tool executions that reached the data API.", metrics.ToolCallsTotal.Load())
		writeMetric(w, "monetrix_tool_errors_total", "counter", "Tool executions that returned an error result.", metrics.ToolErrorsTotal.Load())
		writeMetric(w, "monetrix_tool_skipped_total", "counter", "Duplicate tool calls skipped by the dedup cache.", metrics.ToolSkippedTotal.Load())

		// Dedup caches, summed over live sessions.
		writeMetric(w, "monetrix_cache_entries", "gauge", "Recorded calls across session caches.", cacheSize)
		writeMetric(w, "monetrix_cache_hits", "gauge", "Cache hits across live sessions.", cacheHits)
		writeMetric(w, "monetrix_cache_misses", "gauge", "Cache misses across live sessions.", cacheMisses)
		writeMetric(w, "monetrix_cache_clears_total", "counter", "Explicit cache clears.", metrics.CacheClearsTotal.Load())

		// Streams.
		writeMetric(w, "monetrix_stream_deltas_written", "gauge", "Deltas delivered across live sessions.", written)
		writeMetric(w, "monetrix_stream_deltas_dropped", "gauge", "Deltas dropped across live sessions.", dropped)

		// Uptime.
		writeMetric(w, "monetrix_uptime_seconds", "gauge", "Seconds since the process started.", time.Since(startTime).Round(time.Second).Seconds())

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
		writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Bytes of allocated heap objects.", mem.Alloc)
		writeMetric(w, "go_memstats_sys_bytes", "gauge", "Total bytes of memory obtained from the OS.", mem.Sys)
		writeMetric(w, "go_gc_duration_seconds", "gauge", "Total GC pause duration.", float64(mem.PauseTotalNs)/1e9)
	}
}
