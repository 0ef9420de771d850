package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/johndauphine/wsl-backup/internal/config"
	"github.com/johndauphine/wsl-backup/internal/deploy"
	"github.com/johndauphine/wsl-backup/internal/exitcodes"
	"github.com/johndauphine/wsl-backup/internal/integrity"
	"github.com/johndauphine/wsl-backup/internal/logging"
	"github.com/johndauphine/wsl-backup/internal/notify"
	"github.com/johndauphine/wsl-backup/internal/pack"
	"github.com/johndauphine/wsl-backup/internal/progress"
	"github.com/johndauphine/wsl-backup/internal/restore"
	"github.com/johndauphine/wsl-backup/internal/snapshot"
	"github.com/johndauphine/wsl-backup/internal/state"
	"github.com/johndauphine/wsl-backup/internal/store"
	"github.com/johndauphine/wsl-backup/internal/tui"
	"github.com/johndauphine/wsl-backup/internal/wsl"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "wsl-backup",
		Usage:   "Backup, restore, and migrate WSL distributions",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Disable progress bars even on a terminal",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "backup",
				Usage:     "Create a full or incremental backup of a distribution",
				ArgsUsage: "<distribution>",
				Action:    runBackup,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "incremental",
						Aliases: []string{"i"},
						Usage:   "Capture only files changed since the parent backup",
					},
					&cli.StringFlag{
						Name:  "parent",
						Usage: "Parent backup ID for incremental (default: most recent backup of the distribution)",
					},
				},
			},
			{
				Name:      "restore",
				Usage:     "Restore a backup as a new distribution",
				ArgsUsage: "<target-name>",
				Action:    runRestore,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "artifact",
						Usage: "Path to a full snapshot artifact to import",
					},
					&cli.StringFlag{
						Name:  "backup",
						Usage: "Backup ID to restore; incremental IDs replay the whole chain",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Replace an existing distribution of the same name",
					},
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Verify artifact checksums before touching the target",
					},
					&cli.StringFlag{
						Name:  "checksum",
						Usage: "Expected artifact checksum (sha256:<hex>)",
					},
					&cli.IntFlag{
						Name:  "timeout",
						Usage: "Import timeout in seconds (default from config)",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List recorded backups",
				Action: listBackups,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "distribution",
						Aliases: []string{"d"},
						Usage:   "Only show backups of this distribution",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a backup record and its artifact",
				ArgsUsage: "<backup-id>",
				Action:    deleteBackup,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "cascade",
						Usage: "Also delete incremental backups that depend on this one",
					},
				},
			},
			{
				Name:      "verify",
				Usage:     "Verify artifact checksums against recorded digests",
				ArgsUsage: "[backup-id]",
				Action:    verifyBackups,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Verify every recorded backup",
					},
				},
			},
			{
				Name:      "pack",
				Usage:     "Bundle a distribution snapshot with captured configuration into a migration package",
				ArgsUsage: "<distribution>",
				Action:    runPack,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-packages",
						Usage: "Skip capturing the installed package inventory",
					},
					&cli.BoolFlag{
						Name:  "no-users",
						Usage: "Skip capturing user accounts",
					},
					&cli.BoolFlag{
						Name:  "no-config",
						Usage: "Skip capturing configuration files",
					},
				},
			},
			{
				Name:      "deploy",
				Usage:     "Deploy a migration package to one or more targets",
				ArgsUsage: "<package-path>",
				Action:    runDeploy,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "target",
						Aliases:  []string{"t"},
						Required: true,
						Usage:    "Target distribution name (repeatable)",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Max parallel deployments (default from config)",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Replace existing distributions of the same name",
					},
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Verify the package checksum sidecar before deploying",
					},
					&cli.BoolFlag{
						Name:  "apply-config",
						Usage: "Reapply captured configuration after restore (best-effort)",
					},
					&cli.BoolFlag{
						Name:  "no-tui",
						Usage: "Disable the live dashboard even on a terminal",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show registered distributions and backup store summary",
				Action: showStatus,
			},
			{
				Name:   "history",
				Usage:  "Show recent backup, restore, and deployment operations",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Max operations to show",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Check that the WSL runtime and data directories are usable",
				Action: runHealthCheck,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

// env bundles the long-lived pieces every command needs
type env struct {
	cfg    *config.Config
	client wsl.Client
	store  *store.Store
}

func loadEnv(c *cli.Context) (*env, error) {
	configPath := c.String("config")
	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	return &env{
		cfg:    cfg,
		client: wsl.NewCommandClient(cfg.WSL.Binary),
		store:  store.New(cfg.Store.MetadataFile),
	}, nil
}

func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted.")
		cancel()
	}()

	return ctx, cancel
}

func interactive(c *cli.Context) bool {
	if c.Bool("no-progress") || c.Bool("output-json") {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// recordOp writes the operation to history, best-effort. A history failure
// never fails the operation itself.
func recordOp(cfg *config.Config, opID, opType, subject string, detail any) func(err error) {
	hist, herr := state.New(cfg.Store.DataDir)
	if herr != nil {
		logging.Warn("operation history unavailable: %v", herr)
		return func(error) {}
	}
	if err := hist.Begin(opID, opType, subject, detail); err != nil {
		logging.Warn("recording operation start: %v", err)
	}
	return func(opErr error) {
		defer hist.Close()
		status, msg := "success", ""
		if opErr != nil {
			status, msg = "failed", opErr.Error()
		}
		if err := hist.Complete(opID, status, msg); err != nil {
			logging.Warn("recording operation completion: %v", err)
		}
	}
}

func runBackup(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: wsl-backup backup <distribution>", exitcodes.ValidationError)
	}
	distro := c.Args().First()

	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	engine := snapshot.NewEngine(e.client, e.store, e.cfg)
	notifier := notify.New(&e.cfg.Slack)

	opID := uuid.New().String()
	backupType := "full"
	if c.Bool("incremental") {
		backupType = "incremental"
	}
	finish := recordOp(e.cfg, opID, "backup", distro, map[string]string{"type": backupType})

	start := time.Now()
	var rec *store.BackupRecord

	if c.Bool("incremental") {
		parent, err := resolveParent(e.store, distro, c.String("parent"))
		if err != nil {
			finish(err)
			return err
		}
		if parent == nil {
			logging.Warn("no prior backup of %s found, creating a full backup instead", distro)
			rec, err = engine.CreateFull(ctx, distro)
			if err != nil {
				finish(err)
				notifyBackupFailure(notifier, distro, err, start)
				return err
			}
		} else {
			res, err := engine.CreateIncremental(ctx, distro, parent)
			if err != nil {
				finish(err)
				notifyBackupFailure(notifier, distro, err, start)
				return err
			}
			if res.Skipped {
				finish(nil)
				fmt.Println("No changes since last backup, nothing to do")
				return nil
			}
			rec = res.Record
		}
	} else {
		rec, err = engine.CreateFull(ctx, distro)
		if err != nil {
			finish(err)
			notifyBackupFailure(notifier, distro, err, start)
			return err
		}
	}

	finish(nil)
	if err := notifier.BackupCompleted(distro, string(rec.BackupType), rec.ID, rec.SizeBytes, time.Since(start)); err != nil {
		logging.Warn("notification failed: %v", err)
	}

	return outputJSON(c, rec)
}

func notifyBackupFailure(notifier *notify.Notifier, distro string, err error, start time.Time) {
	if nerr := notifier.BackupFailed(distro, err, time.Since(start)); nerr != nil {
		logging.Warn("notification failed: %v", nerr)
	}
}

// resolveParent finds the incremental parent: an explicit ID, or the most
// recent recorded backup of the distribution. Returns nil when the
// distribution has no backups yet.
func resolveParent(st *store.Store, distro, parentID string) (*store.BackupRecord, error) {
	if parentID != "" {
		return st.Find(parentID)
	}

	records, err := st.All()
	if err != nil {
		return nil, err
	}
	var latest *store.BackupRecord
	for i := range records {
		if records[i].DistributionName != distro {
			continue
		}
		if latest == nil || records[i].CreatedAt.After(latest.CreatedAt) {
			latest = &records[i]
		}
	}
	return latest, nil
}

func runRestore(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: wsl-backup restore <target-name> (--artifact <path> | --backup <id>)", exitcodes.ValidationError)
	}
	target := c.Args().First()
	artifact := c.String("artifact")
	backupID := c.String("backup")
	if (artifact == "") == (backupID == "") {
		return cli.Exit("exactly one of --artifact or --backup is required", exitcodes.ValidationError)
	}

	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	orch := restore.New(e.client, e.store, e.cfg)
	notifier := notify.New(&e.cfg.Slack)

	opts := restore.Options{
		Force:           c.Bool("force"),
		VerifyIntegrity: c.Bool("verify"),
		Checksum:        c.String("checksum"),
		Timeout:         time.Duration(c.Int("timeout")) * time.Second,
	}

	spinner := progress.NewSpinner(fmt.Sprintf("Importing into %s", target), interactive(c))
	if spinner != nil {
		opts.OnProgress = func(time.Duration) { spinner.Add(1) }
	}

	opID := uuid.New().String()
	finish := recordOp(e.cfg, opID, "restore", target, map[string]string{"artifact": artifact, "backup": backupID})

	start := time.Now()
	var result *restore.Result
	if backupID != "" {
		result, err = orch.RestoreChain(ctx, backupID, target, opts)
	} else {
		result, err = orch.RestoreFull(ctx, artifact, target, opts)
	}
	if spinner != nil {
		fmt.Println()
	}

	finish(err)
	if err != nil {
		if nerr := notifier.RestoreFailed(target, err, time.Since(start)); nerr != nil {
			logging.Warn("notification failed: %v", nerr)
		}
		if result != nil {
			if jerr := outputJSON(c, result); jerr != nil {
				logging.Warn("writing result: %v", jerr)
			}
		}
		return err
	}

	if nerr := notifier.RestoreCompleted(target, result.BackupID, result.StepsApplied, time.Since(start)); nerr != nil {
		logging.Warn("notification failed: %v", nerr)
	}
	for _, w := range result.Warnings {
		logging.Warn("%s", w)
	}

	return outputJSON(c, result)
}

func listBackups(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	records, err := e.store.All()
	if err != nil {
		return err
	}
	if filter := c.String("distribution"); filter != "" {
		var kept []store.BackupRecord
		for _, r := range records {
			if r.DistributionName == filter {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if c.Bool("output-json") || c.String("output-file") != "" {
		return outputJSON(c, records)
	}

	if len(records) == 0 {
		fmt.Println("No backups recorded")
		return nil
	}

	fmt.Printf("%-38s %-16s %-12s %-10s %-16s %s\n", "ID", "Distribution", "Type", "Size", "Created", "Parent")
	for _, r := range records {
		parent := "-"
		if r.ParentBackupID != "" {
			parent = r.ParentBackupID
		}
		fmt.Printf("%-38s %-16s %-12s %-10s %-16s %s\n",
			r.ID,
			r.DistributionName,
			r.BackupType,
			humanize.Bytes(uint64(r.SizeBytes)),
			humanize.Time(r.CreatedAt),
			parent)
	}
	return nil
}

func deleteBackup(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: wsl-backup delete <backup-id>", exitcodes.ValidationError)
	}
	id := c.Args().First()

	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	deleted, err := e.store.Delete(id, c.Bool("cascade"))
	if err != nil {
		return err
	}
	for _, d := range deleted {
		fmt.Printf("Deleted backup %s\n", d)
	}
	return nil
}

func verifyBackups(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	var records []store.BackupRecord
	if c.Bool("all") {
		records, err = e.store.All()
		if err != nil {
			return err
		}
	} else {
		if c.NArg() != 1 {
			return cli.Exit("usage: wsl-backup verify <backup-id> (or --all)", exitcodes.ValidationError)
		}
		rec, err := e.store.Find(c.Args().First())
		if err != nil {
			return err
		}
		records = []store.BackupRecord{*rec}
	}

	var failed int
	for _, r := range records {
		if err := integrity.Verify(r.ArtifactPath, r.Checksum); err != nil {
			logging.Error("backup %s: %v", r.ID, err)
			failed++
			continue
		}
		logging.Info("backup %s: OK", r.ID)
	}
	if failed > 0 {
		return exitcodes.NewExitError(
			fmt.Errorf("%d of %d backup(s) failed verification", failed, len(records)),
			exitcodes.IntegrityError)
	}
	logging.Success("verified %d backup(s)", len(records))
	return nil
}

func runPack(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: wsl-backup pack <distribution>", exitcodes.ValidationError)
	}
	distro := c.Args().First()

	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	engine := snapshot.NewEngine(e.client, e.store, e.cfg)
	restorer := restore.New(e.client, e.store, e.cfg)
	packager := pack.New(e.client, engine, restorer, e.cfg)

	opID := uuid.New().String()
	finish := recordOp(e.cfg, opID, "pack", distro, nil)

	info, err := packager.Pack(ctx, distro, pack.PackOptions{
		IncludePackages: !c.Bool("no-packages"),
		IncludeUsers:    !c.Bool("no-users"),
		IncludeConfig:   !c.Bool("no-config"),
	})
	finish(err)
	if err != nil {
		return err
	}

	fmt.Printf("Package written to %s (%s)\n", info.Path, humanize.Bytes(uint64(info.SizeBytes)))
	return outputJSON(c, info)
}

func runDeploy(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: wsl-backup deploy <package-path> --target <name> [--target <name> ...]", exitcodes.ValidationError)
	}
	pkgPath := c.Args().First()
	targets := c.StringSlice("target")

	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	engine := snapshot.NewEngine(e.client, e.store, e.cfg)
	restorer := restore.New(e.client, e.store, e.cfg)
	packager := pack.New(e.client, engine, restorer, e.cfg)
	coordinator := deploy.New(packager)
	notifier := notify.New(&e.cfg.Slack)

	concurrency := e.cfg.Deploy.MaxConcurrency
	if c.IsSet("concurrency") {
		concurrency = c.Int("concurrency")
	}
	opts := pack.DeployOptions{
		Force:           c.Bool("force"),
		VerifyIntegrity: c.Bool("verify"),
		ApplyConfig:     c.Bool("apply-config"),
	}

	opID := uuid.New().String()
	finish := recordOp(e.cfg, opID, "deploy", pkgPath, map[string]any{"targets": targets})

	start := time.Now()
	var result *deploy.Result

	if interactive(c) && !c.Bool("no-tui") {
		result, err = deployWithDashboard(ctx, coordinator, pkgPath, targets, concurrency, opts)
	} else {
		tracker := progress.New(interactive(c))
		tracker.SetTotal(int64(len(targets)), "targets")
		coordinator.OnEvent = func(ev deploy.Event) {
			switch ev.Status {
			case deploy.StatusRunning:
				tracker.Start(ev.Target)
			case deploy.StatusSucceeded, deploy.StatusFailed:
				tracker.End(ev.Target)
				tracker.Add(1)
			}
		}
		result, err = coordinator.Deploy(ctx, pkgPath, targets, concurrency, opts)
		tracker.Finish()
	}

	finish(err)
	if err != nil {
		return err
	}

	var failures []string
	for _, o := range result.Outcomes {
		if o.Status == deploy.StatusFailed {
			failures = append(failures, o.Target)
		}
	}
	if nerr := notifier.DeploymentFinished(pkgPath, result.Total, result.Succeeded, result.Failed, time.Since(start), failures); nerr != nil {
		logging.Warn("notification failed: %v", nerr)
	}

	if jerr := outputJSON(c, result); jerr != nil {
		return jerr
	}
	if result.Failed > 0 {
		return exitcodes.NewExitError(
			fmt.Errorf("%d of %d deployment(s) failed", result.Failed, result.Total),
			exitcodes.ToolError)
	}
	return nil
}

// deployWithDashboard runs the coordinator in the background and drives the
// live dashboard off its events.
func deployWithDashboard(ctx context.Context, coordinator *deploy.Coordinator, pkgPath string, targets []string, concurrency int, opts pack.DeployOptions) (*deploy.Result, error) {
	events := make(chan deploy.Event, len(targets)*4)
	done := make(chan tui.DoneMsg, 1)
	coordinator.OnEvent = func(ev deploy.Event) { events <- ev }

	go func() {
		result, err := coordinator.Deploy(ctx, pkgPath, targets, concurrency, opts)
		close(events)
		done <- tui.DoneMsg{Result: result, Err: err}
	}()

	return tui.Run(pkgPath, targets, events, done)
}

func showStatus(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	distros, err := e.client.List(ctx)
	if err != nil {
		logging.Warn("listing distributions: %v", err)
	}

	records, err := e.store.All()
	if err != nil {
		return err
	}

	type statusReport struct {
		Distributions []wsl.Distro        `json:"distributions"`
		BackupCount   int                 `json:"backup_count"`
		TotalBytes    int64               `json:"total_bytes"`
		LastBackup    *store.BackupRecord `json:"last_backup,omitempty"`
	}
	report := statusReport{Distributions: distros, BackupCount: len(records)}
	for i := range records {
		report.TotalBytes += records[i].SizeBytes
		if report.LastBackup == nil || records[i].CreatedAt.After(report.LastBackup.CreatedAt) {
			report.LastBackup = &records[i]
		}
	}

	if c.Bool("output-json") || c.String("output-file") != "" {
		return outputJSON(c, report)
	}

	fmt.Println("Registered distributions:")
	if len(distros) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range distros {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("  %s %-20s %-10s v%s\n", marker, d.Name, d.Status, d.Version)
	}

	fmt.Printf("\nBackups: %d recorded, %s total\n", report.BackupCount, humanize.Bytes(uint64(report.TotalBytes)))
	if report.LastBackup != nil {
		fmt.Printf("Last backup: %s of %s, %s\n",
			report.LastBackup.BackupType,
			report.LastBackup.DistributionName,
			humanize.Time(report.LastBackup.CreatedAt))
	}

	if hist, err := state.New(e.cfg.Store.DataDir); err == nil {
		defer hist.Close()
		if op, err := hist.LastIncomplete(); err == nil && op != nil {
			fmt.Printf("\nWARNING: %s of %s started %s is still marked running (crashed?)\n",
				op.OpType, op.Subject, humanize.Time(op.StartedAt))
		}
	}

	return nil
}

func showHistory(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	hist, err := state.New(e.cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer hist.Close()

	ops, err := hist.Recent(c.Int("limit"))
	if err != nil {
		return err
	}

	if c.Bool("output-json") || c.String("output-file") != "" {
		return outputJSON(c, ops)
	}

	if len(ops) == 0 {
		fmt.Println("No operations recorded")
		return nil
	}

	fmt.Printf("%-38s %-10s %-20s %-10s %-16s %s\n", "ID", "Operation", "Subject", "Status", "Started", "Error")
	for _, op := range ops {
		errMsg := op.ErrorMsg
		if len(errMsg) > 40 {
			errMsg = errMsg[:40] + "..."
		}
		fmt.Printf("%-38s %-10s %-20s %-10s %-16s %s\n",
			op.ID, op.OpType, op.Subject, op.Status,
			humanize.Time(op.StartedAt), errMsg)
	}
	return nil
}

// HealthResult reports the outcome of the health sub-checks
type HealthResult struct {
	Healthy bool `json:"healthy"`

	RuntimeAvailable bool   `json:"runtime_available"`
	RuntimeError     string `json:"runtime_error,omitempty"`
	RuntimeLatencyMs int64  `json:"runtime_latency_ms"`
	DistroCount      int    `json:"distro_count"`

	DataDirWritable bool   `json:"data_dir_writable"`
	DataDirError    string `json:"data_dir_error,omitempty"`

	StoreReadable bool   `json:"store_readable"`
	StoreError    string `json:"store_error,omitempty"`
	BackupCount   int    `json:"backup_count"`

	Timestamp string `json:"timestamp"`
}

// runHealthCheck probes the runtime, the data directory, and the metadata
// store in parallel with independent timeouts so one slow check cannot
// starve the others.
func runHealthCheck(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	result := &HealthResult{Timestamp: time.Now().Format(time.RFC3339)}

	const checkTimeout = 30 * time.Second

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		distros, err := e.client.List(ctx)
		if err != nil {
			result.RuntimeError = err.Error()
		} else {
			result.RuntimeAvailable = true
			result.DistroCount = len(distros)
		}
		result.RuntimeLatencyMs = time.Since(start).Milliseconds()
	}()

	go func() {
		defer wg.Done()
		if err := os.MkdirAll(e.cfg.Store.DataDir, 0755); err != nil {
			result.DataDirError = err.Error()
			return
		}
		probe := e.cfg.Store.DataDir + "/.health"
		if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
			result.DataDirError = err.Error()
			return
		}
		os.Remove(probe)
		result.DataDirWritable = true
	}()

	go func() {
		defer wg.Done()
		records, err := e.store.All()
		if err != nil {
			result.StoreError = err.Error()
			return
		}
		result.StoreReadable = true
		result.BackupCount = len(records)
	}()

	wg.Wait()

	result.Healthy = result.RuntimeAvailable && result.DataDirWritable && result.StoreReadable

	if c.Bool("output-json") || c.String("output-file") != "" {
		if err := outputJSON(c, result); err != nil {
			return err
		}
	} else {
		printCheck := func(name string, ok bool, errMsg string) {
			if ok {
				fmt.Printf("  %-14s OK\n", name)
			} else {
				fmt.Printf("  %-14s FAILED: %s\n", name, errMsg)
			}
		}
		printCheck("runtime", result.RuntimeAvailable, result.RuntimeError)
		printCheck("data dir", result.DataDirWritable, result.DataDirError)
		printCheck("store", result.StoreReadable, result.StoreError)
	}

	if !result.Healthy {
		return exitcodes.NewExitError(fmt.Errorf("health check failed"), exitcodes.ToolError)
	}
	logging.Success("all health checks passed")
	return nil
}

// outputJSON writes the result as JSON to stdout and/or a file when the
// corresponding global flags are set
func outputJSON(c *cli.Context, result any) error {
	if !c.Bool("output-json") && c.String("output-file") == "" {
		return nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
