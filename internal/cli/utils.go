// Package cli provides output formatting and a thin API client for the semcache CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/seed"
	"github.com/hyperjump/semcache/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// responsePreview caps how much of a response text output shows before truncating.
const responsePreview = 2000

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResponse writes a query result to w in the given format.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "%s (similarity %.4f, record %d, %d candidate(s), %dms)\n",
		resp.Outcome, resp.Similarity, resp.RecordID, resp.Candidates, resp.LatencyMs)
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────")
	fmt.Fprintln(w, utils.Truncate(resp.Response, responsePreview))
	return nil
}

// WriteStats writes cache statistics to w in the given format.
func WriteStats(w io.Writer, stats *models.StatsResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "state:                 %s\n", stats.State)
	fmt.Fprintf(w, "records:               %d   # records in the store\n", stats.Records)
	fmt.Fprintf(w, "index_count:           %d   # points in the vector index\n", stats.IndexCount)
	fmt.Fprintf(w, "index_capacity:        %d\n", stats.IndexCapacity)
	if stats.IndexType != "" {
		fmt.Fprintf(w, "index_type:            %s\n", stats.IndexType)
	}
	if stats.Dimension > 0 {
		fmt.Fprintf(w, "dimension:             %d\n", stats.Dimension)
	}
	fmt.Fprintf(w, "next_id:               %d\n", stats.NextID)
	if stats.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:      %d\n", *stats.DiskUsageBytes)
	}
	if stats.Threshold > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# decisions")
		fmt.Fprintf(w, "similarity_threshold:  %.4f\n", stats.Threshold)
		fmt.Fprintf(w, "top_k:                 %d\n", stats.TopK)
		fmt.Fprintf(w, "hits:                  %d\n", stats.Hits)
		fmt.Fprintf(w, "misses:                %d\n", stats.Misses)
		fmt.Fprintf(w, "hit_rate:              %.4f\n", stats.HitRate)
	}
	return nil
}

// WriteSeedReport writes the summary of a seed run to w in the given format.
func WriteSeedReport(w io.Writer, report *seed.Report, skipped int, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			*seed.Report
			Skipped int `json:"skipped"`
		}{report, skipped})
	}
	fmt.Fprintf(w, "Seeded %d record(s) in %s (run %s)\n",
		report.Stored, report.Duration.Round(time.Millisecond), report.RunID)
	if report.Stored > 0 {
		fmt.Fprintf(w, "ids: %d..%d\n", report.FirstID, report.LastID)
	}
	if skipped > 0 {
		fmt.Fprintf(w, "skipped %d incomplete pair(s)\n", skipped)
	}
	return nil
}

// WriteCleared reports a cache clear in the given format.
func WriteCleared(w io.Writer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]string{"status": "cleared"})
	}
	fmt.Fprintln(w, "Cache cleared")
	return nil
}
