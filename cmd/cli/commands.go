package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/analytics"
	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/dvloznov/finance-ingest/internal/notionsync"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/dvloznov/finance-ingest/internal/store"
)

func runImport(args []string) {
	cmd := newCommand("import")
	kind := cmd.fs.String("kind", "", "Force file kind: csv or pdf (default: detect)")
	maxMB := cmd.fs.Int64("max-mb", 0, "Reject files larger than this many MB (default: server.max_upload_mb)")
	cmd.parse(args)

	uris := cmd.fs.Args()
	if len(uris) == 0 {
		cmd.log.Fatal().Msg("Usage: cli import [options] FILE|gs://bucket/object ...")
	}
	if *maxMB <= 0 {
		*maxMB = cmd.cfg.Server.MaxUploadMB
	}
	forced := domain.ParseFileKind(*kind)
	if *kind != "" && forced == "" {
		cmd.log.Fatal().Str("kind", *kind).Msg("Error: -kind must be csv or pdf")
	}

	ctx, cancel := cmd.context(30 * time.Minute)
	defer cancel()

	svc, err := app.Open(ctx, cmd.cfg, cmd.log, nil)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to wire services")
	}
	defer svc.Close()

	loader, closeLoader, err := app.NewLoader(ctx, uris, *maxMB<<20)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to create statement loader")
	}
	defer closeLoader()

	failed := 0
	for _, uri := range uris {
		stmt, err := loader.Fetch(ctx, uri)
		if err != nil {
			cmd.log.Error().Err(err).Str("uri", uri).Msg("Failed to read statement")
			failed++
			continue
		}

		summary, err := svc.Importer.Import(ctx, pipeline.ImportRequest{
			Data:       stmt.Data,
			Kind:       forced,
			SourceFile: stmt.Filename,
		})
		printSummary(summary)
		if err != nil {
			cmd.log.Error().Err(err).Str("uri", uri).Msg("Import failed")
			failed++
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func printSummary(s *domain.ImportSummary) {
	if s == nil {
		return
	}
	fmt.Printf("\n=== %s (%s) ===\n", s.SourceFile, s.Status)
	fmt.Printf("Import ID:  %s\n", s.ImportID)
	fmt.Printf("Lines:      %d\n", s.Lines)
	fmt.Printf("Batches:    %d/%d\n", s.BatchesCompleted, s.BatchesTotal)
	fmt.Printf("Inserted:   %d\n", s.Inserted)
	fmt.Printf("Duplicates: %d\n", s.SkippedDuplicates)
	fmt.Printf("Dropped:    %d\n", s.Dropped)
	for reason, n := range s.DropReasons {
		fmt.Printf("  %-20s %d\n", reason, n)
	}
	for _, w := range s.Warnings {
		fmt.Printf("Warning:    %s\n", w)
	}
	if s.Error != "" {
		fmt.Printf("Error:      %s\n", s.Error)
	}
}

func runRecurring(args []string) {
	cmd := newCommand("recurring")
	asJSON := cmd.fs.Bool("json", false, "Print JSON instead of a table")
	cmd.parse(args)

	ctx, cancel := cmd.context(2 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	history, err := svc.Store.List(ctx, store.Filter{})
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}
	groups := svc.Detector.Detect(history)

	if *asJSON {
		printJSON(map[string]any{
			"recurring":   groups,
			"yearly_cost": analytics.YearlyRecurringCost(groups),
		})
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MERCHANT\tFREQUENCY\tAMOUNT\tYEARLY\tLAST PAID\tNEXT\tCONFIDENCE")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			g.Merchant, g.Frequency, g.TypicalAmount.StringFixed(2), g.YearlyCost.StringFixed(2),
			g.LastPaid, g.NextExpected, g.Confidence)
	}
	w.Flush()
	fmt.Printf("\nYearly recurring cost: %s\n", analytics.YearlyRecurringCost(groups).StringFixed(2))
}

func runUpcoming(args []string) {
	cmd := newCommand("upcoming")
	days := cmd.fs.Int("days", 0, "Look-ahead window in days (default: recurring.upcoming_days)")
	cmd.parse(args)
	if *days <= 0 {
		*days = cmd.cfg.Recurring.UpcomingDays
	}

	ctx, cancel := cmd.context(2 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	history, err := svc.Store.List(ctx, store.Filter{})
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	due := analytics.Upcoming(svc.Detector.Detect(history), civil.DateOf(time.Now()), *days)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DUE\tIN DAYS\tMERCHANT\tAMOUNT")
	for _, p := range due {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.NextExpected, p.DaysUntil, p.Merchant, p.TypicalAmount.StringFixed(2))
	}
	w.Flush()
}

func runSummary(args []string) {
	cmd := newCommand("summary")
	period := periodFlags(cmd.fs)
	cmd.parse(args)
	filter := period(cmd.log)

	ctx, cancel := cmd.context(2 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	txs, err := svc.Store.List(ctx, filter)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	t := analytics.Summarize(txs)
	fmt.Printf("Transactions: %d\n", t.Transactions)
	fmt.Printf("Income:       %s\n", t.Income.StringFixed(2))
	fmt.Printf("Expenses:     %s\n", t.Expenses.StringFixed(2))
	fmt.Printf("Net:          %s\n", t.Net.StringFixed(2))
	fmt.Printf("Savings rate: %.2f%%\n", t.SavingsRate)
	if b := analytics.LatestBalance(txs); b != nil {
		fmt.Printf("Balance:      %s\n", b.StringFixed(2))
	}
}

func runTrend(args []string) {
	cmd := newCommand("trend")
	period := periodFlags(cmd.fs)
	cmd.parse(args)
	filter := period(cmd.log)

	ctx, cancel := cmd.context(2 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	txs, err := svc.Store.List(ctx, filter)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "MONTH\tINCOME\tEXPENSES\tNET\tSAVINGS %\t")
	for _, p := range analytics.MonthlyTrend(txs) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t\n",
			p.Month, p.Income.StringFixed(2), p.Expenses.StringFixed(2), p.Net.StringFixed(2), p.SavingsRate)
	}
	w.Flush()
}

func runSpending(args []string) {
	cmd := newCommand("spending")
	period := periodFlags(cmd.fs)
	cmd.parse(args)
	filter := period(cmd.log)

	ctx, cancel := cmd.context(2 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	txs, err := svc.Store.List(ctx, filter)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tAMOUNT\tSHARE %\tCOUNT")
	for _, c := range analytics.SpendingByCategory(txs) {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\n", c.Category, c.Amount.StringFixed(2), c.Share, c.Count)
	}
	w.Flush()
}

func runExport(args []string) {
	cmd := newCommand("export")
	period := periodFlags(cmd.fs)
	category := cmd.fs.String("category", "", "Only this category")
	output := cmd.fs.String("o", "", "Output file (default: stdout)")
	cmd.parse(args)
	filter := period(cmd.log)
	filter.Category = *category

	ctx, cancel := cmd.context(5 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	txs, err := svc.Store.List(ctx, filter)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			cmd.log.Fatal().Err(err).Str("file", *output).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	if err := analytics.WriteCSV(out, txs); err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to write CSV")
	}
	cmd.log.Info().Int("transactions", len(txs)).Str("file", *output).Msg("Export completed")
}

func runHistory(args []string) {
	cmd := newCommand("history")
	limit := cmd.fs.Int("limit", 20, "Number of imports to show")
	cmd.parse(args)

	ctx, cancel := cmd.context(2 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	if svc.Runs == nil {
		cmd.log.Fatal().Str("driver", cmd.cfg.Database.Driver).Msg("This store keeps no import history")
	}

	runs, err := svc.Runs.ListImportRuns(ctx, *limit)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list import runs")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tFILE\tSTATUS\tINSERTED\tDUPLICATES\tDROPPED\tWARNINGS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.StartedAt.Local().Format(time.DateTime), r.SourceFile, r.Status,
			r.Inserted, r.SkippedDuplicates, r.Dropped, len(r.Warnings))
	}
	w.Flush()
}

func runSyncNotion(args []string) {
	cmd := newCommand("sync-notion")
	dryRun := cmd.fs.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	cmd.parse(args)

	if cmd.cfg.Notion.Token == "" || cmd.cfg.Notion.RecurringDatabaseID == "" {
		cmd.log.Fatal().Msg("Error: NOTION_TOKEN and NOTION_RECURRING_DB are required")
	}

	ctx, cancel := cmd.context(10 * time.Minute)
	defer cancel()

	svc := cmd.storeOnly(ctx)
	defer svc.Close()

	history, err := svc.Store.List(ctx, store.Filter{})
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	res, err := notionsync.SyncRecurring(ctx,
		notionsync.NewNotionClient(cmd.cfg.Notion.Token),
		cmd.cfg.Notion.RecurringDatabaseID,
		svc.Detector.Detect(history),
		*dryRun)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Created %d, updated %d, archived %d, failed %d\n", res.Created, res.Updated, res.Archived, res.Failed)
}

func runMerchant(args []string) {
	cmd := newCommand("merchant")
	cmd.parse(args)

	description := strings.Join(cmd.fs.Args(), " ")
	if description == "" {
		cmd.log.Fatal().Msg("Usage: cli merchant DESCRIPTION")
	}

	aliases, err := merchant.NewSource(cmd.cfg.AliasesPath)
	if err != nil {
		cmd.log.Fatal().Err(err).Msg("Failed to load merchant aliases")
	}

	name := aliases.Current().Resolve(description)
	if name == nil {
		fmt.Println("Merchant: (unresolved)")
	} else {
		fmt.Printf("Merchant: %s\n", *name)
	}
	fmt.Printf("Key:      %s\n", merchant.Key(name, description))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
