package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"boardscan/pkg/common"
	"boardscan/pkg/export"
	"boardscan/pkg/ledger"
	"boardscan/process/report"
)

func main() {
	limit := flag.Int("limit", 20, "number of recent jobs to list")
	jobID := flag.Uint("job", 0, "print statistics for one job")
	xlsx := flag.String("xlsx", "", "also write an XLSX export to this path")
	flag.Parse()

	if err := common.LoadDotEnv(".env"); err != nil {
		log.Printf("ignoring .env: %v", err)
	}
	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}
	logger := common.NewLogger(os.Stderr)
	ctx := context.Background()

	l, err := ledger.Open(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer l.Close()

	if *jobID != 0 {
		st, err := l.JobStatistics(ctx, *jobID)
		if err != nil {
			log.Fatalf("job %d: %v", *jobID, err)
		}
		ended := "running"
		if st.EndedAt != nil {
			ended = st.EndedAt.String()
		}
		fmt.Printf("Job %d %s (%s) model=%s ended=%s\n", st.JobID, st.FileName, st.FilePath, st.Model, ended)
		fmt.Printf("  detections=%d crops=%d extractions=%d\n", st.Detections, st.Crops, st.Extractions)
		return
	}

	stats, err := l.GlobalStatistics(ctx)
	if err != nil {
		log.Fatalf("statistics: %v", err)
	}
	report.PrintStats(os.Stdout, stats)

	jobs, err := l.ListJobs(ctx, *limit)
	if err != nil {
		log.Fatalf("list jobs: %v", err)
	}
	fmt.Println()
	report.PrintJobs(os.Stdout, jobs)

	if *xlsx != "" {
		data, err := export.NewService(l, logger).Workbook(ctx)
		if err != nil {
			log.Fatalf("export: %v", err)
		}
		if err := os.WriteFile(*xlsx, data, 0o644); err != nil {
			log.Fatalf("write %s: %v", *xlsx, err)
		}
		fmt.Printf("wrote %s\n", *xlsx)
	}
}
