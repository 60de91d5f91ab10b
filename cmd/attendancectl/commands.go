package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/mailer"
	"github.com/warp/attendance-engine/store/sqlite"
)

var (
	dbPath string
	store  *sqlite.Store
)

var rootCmd = &cobra.Command{
	Use:   "attendancectl",
	Short: "Operate the attendance reconciliation engine",
	Long: `attendancectl runs sweeps, inspects anomalies and maintains the
notification log of an attendance engine database.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// withStore opens the database before fn and closes it afterwards.
func withStore(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := sqlite.New(dbPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", dbPath, err)
		}
		store = s
		defer store.Close()
		return fn(cmd, args)
	}
}

func newEngine() *attendance.Engine {
	return attendance.NewEngine(store, mailer.NewLogSender(nil), attendance.SystemClock{})
}

func init() {
	_ = godotenv.Load()
	def := os.Getenv("DATABASE_PATH")
	if def == "" {
		def = "attendance.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", def, "SQLite database path")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(anomaliesCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
}

// =============================================================================
// SWEEP
// =============================================================================

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile a work date",
	Long: `Runs the batch reconciliation for a work date: missing OUTs past their
detection window, absences, technical absences and overtime. Re-running a
date creates nothing new.`,
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		dateFlag, _ := cmd.Flags().GetString("date")
		tenants, _ := cmd.Flags().GetStringSlice("tenant")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		date, err := attendance.ParseDate(dateFlag)
		if err != nil {
			return err
		}

		sweeper := attendance.NewSweeper(newEngine(), store)
		sweeper.Concurrency = concurrency

		ctx := cmd.Context()
		var report attendance.SweepReport
		if len(tenants) == 0 {
			if report, err = sweeper.Run(ctx, date); err != nil {
				return err
			}
		} else {
			ids := make([]attendance.TenantID, len(tenants))
			for i, t := range tenants {
				ids[i] = attendance.TenantID(t)
			}
			report = sweeper.RunTenants(ctx, date, ids...)
		}

		printSweepReport(cmd, report)
		if report.Failed() {
			return fmt.Errorf("%d tenant(s) failed", len(report.Failures))
		}
		return nil
	}),
}

func printSweepReport(cmd *cobra.Command, report attendance.SweepReport) {
	sort.Slice(report.Tenants, func(i, j int) bool { return report.Tenants[i].TenantID < report.Tenants[j].TenantID })

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tEMPLOYEES\tNEW ANOMALIES\tOVERTIME\tFAILED")
	for _, t := range report.Tenants {
		overtime := 0
		for _, emp := range t.Days {
			for _, d := range emp.All() {
				if d.Overtime != nil {
					overtime++
				}
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", t.TenantID, t.Employees, t.AnomalyCount(), overtime, len(t.Failed))
	}
	tw.Flush()
	for tenant, msg := range report.Failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", tenant, msg)
	}
}

func init() {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	sweepCmd.Flags().String("date", yesterday, "Work date to reconcile (YYYY-MM-DD)")
	sweepCmd.Flags().StringSlice("tenant", nil, "Tenant to sweep (repeatable, default all)")
	sweepCmd.Flags().Int("concurrency", attendance.DefaultSweepConcurrency, "Tenants swept in parallel")
}

// =============================================================================
// ANOMALIES
// =============================================================================

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "List anomalies",
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		typeFlag, _ := cmd.Flags().GetString("type")
		all, _ := cmd.Flags().GetBool("all")

		f := attendance.AnomalyFilter{IncludeCorrected: all}
		var err error
		if fromFlag != "" {
			if f.From, err = attendance.ParseDate(fromFlag); err != nil {
				return err
			}
		}
		if toFlag != "" {
			if f.To, err = attendance.ParseDate(toFlag); err != nil {
				return err
			}
		}
		if typeFlag != "" {
			f.Type = attendance.AnomalyType(strings.ToUpper(typeFlag))
			if !f.Type.Valid() {
				return fmt.Errorf("unknown anomaly type %q", typeFlag)
			}
		}

		list, err := newEngine().Anomalies(cmd.Context(), attendance.TenantID(tenant), f)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No anomalies found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tEMPLOYEE\tTYPE\tSEVERITY\tLATE\tCORRECTED\tREASON")
		for _, a := range list {
			corrected := ""
			if a.IsCorrected {
				corrected = a.CorrectedBy
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", a.Date, a.EmployeeID, a.Type, a.Severity, a.LateMinutes, corrected, a.Reason)
		}
		return tw.Flush()
	}),
}

func init() {
	anomaliesCmd.Flags().String("tenant", "", "Tenant ID")
	anomaliesCmd.Flags().String("from", "", "First date (YYYY-MM-DD)")
	anomaliesCmd.Flags().String("to", "", "Last date (YYYY-MM-DD)")
	anomaliesCmd.Flags().String("type", "", "Anomaly type, e.g. LATE")
	anomaliesCmd.Flags().Bool("all", false, "Include corrected anomalies")
	_ = anomaliesCmd.MarkFlagRequired("tenant")
}

// =============================================================================
// NOTIFICATION LOG
// =============================================================================

var purgeCmd = &cobra.Command{
	Use:   "purge-notifications",
	Short: "Delete old notification log entries",
	Long: `Deletes notification log entries sent before now minus --older-than.
Keep the duration above the longest notification frequency, or managers
may be notified again.`,
	RunE: withStore(func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		n, err := store.PurgeNotifications(cmd.Context(), time.Now().UTC().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d notification log entries\n", n)
		return nil
	}),
}

func init() {
	purgeCmd.Flags().Duration("older-than", 90*24*time.Hour, "Age of the entries to delete")
}

// =============================================================================
// SETTINGS
// =============================================================================

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Tenant settings documents",
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a settings JSON document and print it with defaults applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		f := factory.NewSettingsFactory()
		settings, err := f.Parse(data)
		if err != nil {
			return err
		}
		out, err := f.ToJSON(settings)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
