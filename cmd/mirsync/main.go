package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mirsync/internal/config"
	"mirsync/internal/journal"
	"mirsync/internal/logging"
	"mirsync/internal/scheduler"
	"mirsync/internal/sync"
)

var (
	logLevel    string
	once        bool
	journalPath string
)

var rootCmd = &cobra.Command{
	Use:   "mirsync SOURCE REPLICA INTERVAL LOG_PATH",
	Short: "One-way periodic folder synchronizer",
	Long: `mirsync keeps a replica directory an exact mirror of a source
directory. It rescans both trees on a fixed interval and applies the
minimal set of copy, create and delete operations needed to converge.
Changes are detected by content fingerprint, never by timestamp, and
the source is never modified.`,
	Args: cobra.ExactArgs(4),
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	interval, err := strconv.Atoi(args[2])
	if err != nil {
		return &config.ConfigError{Field: "interval", Err: err}
	}

	cfg := &config.Config{
		Source:      args[0],
		Replica:     args[1],
		Interval:    interval,
		LogPath:     args[3],
		LogLevel:    logLevel,
		JournalPath: journalPath,
		Once:        once,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder scheduler.Recorder
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer j.Close()
		recorder = j
	}

	syncer := sync.New(cfg.Source, cfg.Replica, logger)
	sched := scheduler.New(syncer, logger, scheduler.Options{
		Interval: time.Duration(cfg.Interval) * time.Second,
		Once:     cfg.Once,
		Recorder: recorder,
	})

	return sched.Run(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Path to the cycle report journal database")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")

	var (
		historyLimit int
		exportPath   string
	)

	var historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent sync cycles recorded in the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalPath == "" {
				return fmt.Errorf("--journal is required")
			}

			j, err := journal.Open(journalPath)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()

			if exportPath != "" {
				if err := j.ExportFile(exportPath); err != nil {
					return fmt.Errorf("exporting journal: %w", err)
				}
				fmt.Println("Journal exported to", exportPath)
				return nil
			}

			reports, err := j.Recent(historyLimit)
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}

			if len(reports) == 0 {
				fmt.Println("No cycles recorded")
				return nil
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			for _, r := range reports {
				symbol := green("✓")
				switch {
				case r.Fatal != "":
					symbol = red("✗")
				case len(r.Failures) > 0 || r.Skipped > 0:
					symbol = yellow("!")
				}

				fmt.Printf("%s %s  %s  +%dd +%df -%df -%dd  skipped:%d  %s\n",
					symbol,
					r.StartedAt.Format(time.RFC3339),
					r.ID[:8],
					r.DirsCreated,
					r.FilesCopied,
					r.FilesDeleted,
					r.DirsDeleted,
					r.Skipped,
					r.Duration().Round(time.Millisecond),
				)

				if r.Fatal != "" {
					fmt.Printf("\t%s %s\n", red("fatal:"), r.Fatal)
				}
				for _, f := range r.Failures {
					fmt.Printf("\t%s %s %s: %s\n", red("failed:"), f.Op, f.Path, f.Error)
				}
			}

			return nil
		},
	}

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of cycles to show")
	historyCmd.Flags().StringVar(&exportPath, "export", "", "Write the full journal as zstd-compressed JSON to this path")

	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
