// Package report renders batch summaries and ledger statistics for the
// command-line tools.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"boardscan/pkg/ledger"
	"boardscan/pkg/ocr"
	"boardscan/pkg/pipeline"
)

// PrintBatch writes one line per image and the per-crop readings, then the
// batch totals.
func PrintBatch(w io.Writer, b pipeline.BatchSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tSTATUS\tJOB\tDETECTIONS\tCROPS\tTEXT\tELAPSED\tDETAIL")
	for _, s := range b.Images {
		detail := s.ArtifactDir
		if !s.OK() {
			detail = s.FailedStep + ": " + s.Error
		}
		job := "-"
		if s.JobID != 0 {
			job = fmt.Sprint(s.JobID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Stem, s.Status, job, s.Detections, s.Crops, s.TextFound,
			s.Elapsed.Round(time.Millisecond), detail)
	}
	_ = tw.Flush()

	for _, s := range b.Images {
		for _, r := range s.Results {
			if r.Extraction == nil || !r.Extraction.Found() {
				continue
			}
			fmt.Fprintf(w, "  %s #%d %s: %q (rot=%d conf=%.1f)\n",
				s.Stem, r.Index, r.ClassName, r.Extraction.CleanedText,
				r.Extraction.Orientation, r.Extraction.Confidence)
		}
	}
	fmt.Fprintf(w, "run=%s images=%d succeeded=%d failed=%d\n", b.RunID, len(b.Images), b.Succeeded, b.Failed)
}

// PrintStats writes the global ledger statistics and the class histogram.
func PrintStats(w io.Writer, st ledger.GlobalStats) {
	fmt.Fprintln(w, "Ledger statistics:")
	fmt.Fprintf(w, "  images=%d jobs=%d detections=%d crops=%d extractions=%d successful=%d\n",
		st.TotalImages, st.TotalJobs, st.TotalDetections, st.TotalCrops, st.TotalExtractions, st.SuccessfulExtractions)
	if st.TotalExtractions > 0 {
		fmt.Fprintf(w, "  extraction success rate=%.1f%%\n",
			100*float64(st.SuccessfulExtractions)/float64(st.TotalExtractions))
	}
	if len(st.ClassHistogram) == 0 {
		return
	}
	fmt.Fprintln(w, "Classes:")
	for _, c := range st.ClassHistogram {
		fmt.Fprintf(w, "  %-14s %d\n", c.ClassName, c.Count)
	}
}

// PrintJobs lists recent jobs; an open end time shows as "running".
func PrintJobs(w io.Writer, jobs []ledger.JobSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tFILE\tMODEL\tSTARTED\tENDED\tDETECTIONS")
	for _, j := range jobs {
		ended := "running"
		if j.EndedAt != nil {
			ended = j.EndedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", j.JobID, j.FileName, j.Model,
			j.StartedAt.UTC().Format(time.RFC3339), ended, j.DetectionCount)
	}
	_ = tw.Flush()
}

// PrintTrials writes every recognition trial, marking the selected one.
func PrintTrials(w io.Writer, trials []ocr.Trial) {
	best := ocr.Select(trials)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tROT\tVARIANT\tCONF\tTEXT\tERROR")
	for i, t := range trials {
		mark := ""
		if i == best {
			mark = "*"
		}
		errText := ""
		if t.Err != nil {
			errText = t.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.1f\t%q\t%s\n", mark, t.Orientation, t.Variant, t.Confidence,
			strings.TrimSpace(t.Text), errText)
	}
	_ = tw.Flush()
}
