package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"canonical_cutover/internal/backfill"
	"canonical_cutover/internal/backup"
	"canonical_cutover/internal/config"
	"canonical_cutover/internal/cutover"
	"canonical_cutover/internal/db"
	"canonical_cutover/internal/export"
	"canonical_cutover/internal/logging"
	"canonical_cutover/internal/store"
	"canonical_cutover/internal/validate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init-config":
		if err := initConfigCmd(args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "run":
		if err := runCmd(args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "validate":
		if err := validateCmd(args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "status":
		if err := statusCmd(args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "merge-comms":
		if err := mergeCommsCmd(args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`canonical_cutover commands:
  init-config  - create a starter config.yaml
  run          - execute a full backup/import/extract/validate cutover
  validate     - run integrity checks against the current canonical store
  status       - show recent cutover runs
  merge-comms  - append a communications export into comms_canonical

Flags are command specific; run "<cmd> -h" for details.`)
}

func initConfigCmd(args []string) error {
	fs := flagSet("init-config")
	path := fs.String("path", "config.yaml", "where to write the sample config")
	backupPath := fs.String("backups", "./backups", "local root for backup snapshots")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("%s already exists", *path)
	}

	content := fmt.Sprintf(`log_level: info
http_addr: :8080
backup_path: %s
destination: staging
stores:
  - name: staging
    provider: sqlite
    dsn: ./staging.db
exports:
  projects: ./exports/projects.csv
  phases: ./exports/phases.csv
  comms: ./exports/comms.json
expected:
  projects: 18
  phases: 38
timeouts:
  preflight: 30s
  backup: 2m
  import: 5m
  extract: 5m
  validate: 2m
dependents: []
`, *backupPath)
	if err := os.WriteFile(*path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Println("sample config written to", *path)
	return nil
}

func runCmd(args []string) error {
	fs := flagSet("run")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	mgr := db.NewManager(cfg.Stores, store.EnsureCanonicalSchema, logger)
	defer mgr.Close()

	backups, err := backup.NewStore(cfg.BackupPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := cutover.New(mgr, cfg, backups, logger)
	result, err := orch.Run(ctx)
	if err != nil && result == nil {
		return err
	}

	fmt.Println(result.Summary())
	if result.Report != nil {
		fmt.Println(result.Report.Summary())
	}
	if result.BackupRef != "" {
		fmt.Println("backup:", result.BackupRef)
	}
	if result.Outcome != cutover.OutcomeSuccess {
		os.Exit(1)
	}
	return nil
}

func validateCmd(args []string) error {
	fs := flagSet("validate")
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	mgr := db.NewManager(cfg.Stores, store.EnsureCanonicalSchema, logger)
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := mgr.Get(ctx, cfg.Destination)
	if err != nil {
		return err
	}

	// A standalone validation has no prior snapshot, so the preservation
	// checks compare the store against itself.
	comms, err := store.CountRows(ctx, h, "comms_canonical")
	if err != nil {
		return err
	}
	governance, err := store.CountRows(ctx, h, "governance_logs")
	if err != nil {
		return err
	}

	expected := validate.Expected{Projects: cfg.Expected.Projects, Phases: cfg.Expected.Phases}
	pre := validate.Preserved{Comms: comms, Governance: governance}
	report, err := validate.Run(ctx, h, uuid.New(), expected, pre)
	if err != nil {
		return err
	}

	fmt.Println(report.Summary())
	for _, check := range report.Checks {
		marker := "PASS"
		if !check.Passed {
			marker = "FAIL"
		}
		fmt.Printf("  [%s] %s: %s\n", marker, check.Name, check.Detail)
	}
	if !report.Passed {
		os.Exit(1)
	}
	return nil
}

func statusCmd(args []string) error {
	fs := flagSet("status")
	configPath := fs.String("config", "config.yaml", "path to config file")
	limit := fs.Int("limit", 10, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	mgr := db.NewManager(cfg.Stores, store.EnsureCanonicalSchema, logger)
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := mgr.Get(ctx, cfg.Destination)
	if err != nil {
		return err
	}
	runs, err := store.ListRuns(ctx, h, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}
	for _, r := range runs {
		errText := ""
		if r.Error.Valid {
			errText = " err=" + r.Error.String
		}
		fmt.Printf("[%s] %s outcome=%s reached=%s backup=%s%s\n",
			r.StartedAt.Format(time.RFC3339), r.RunID, r.Outcome, r.PhaseReached, r.BackupRef.String, errText)
	}
	return nil
}

func mergeCommsCmd(args []string) error {
	fs := flagSet("merge-comms")
	configPath := fs.String("config", "config.yaml", "path to config file")
	file := fs.String("file", "", "communications export to merge (json or csv)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *file == "" {
		*file = cfg.Exports.Comms
	}
	if *file == "" {
		return fmt.Errorf("--file is required when the config has no comms export")
	}
	logger := logging.NewLogger(cfg.LogLevel)

	mgr := db.NewManager(cfg.Stores, store.EnsureCanonicalSchema, logger)
	defer mgr.Close()

	records, err := export.Load(*file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	importer := backfill.NewImporter(mgr, cfg.Destination, logger)
	summary, err := importer.ImportComms(ctx, records)
	if err != nil {
		return err
	}
	fmt.Printf("merged %d communications (%d skipped)\n", summary.Imported, summary.Skipped)
	for _, rowErr := range summary.Errors {
		fmt.Printf("  skipped %s: %s\n", rowErr.Key, rowErr.Message)
	}
	return nil
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	return fs
}
