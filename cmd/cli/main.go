package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "import":
		runImport(args)
	case "recurring":
		runRecurring(args)
	case "upcoming":
		runUpcoming(args)
	case "summary":
		runSummary(args)
	case "trend":
		runTrend(args)
	case "spending":
		runSpending(args)
	case "export":
		runExport(args)
	case "history":
		runHistory(args)
	case "sync-notion":
		runSyncNotion(args)
	case "merchant":
		runMerchant(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Ingest CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import       Import statements (local paths or gs:// URIs)")
	fmt.Println("  recurring    List detected recurring payments")
	fmt.Println("  upcoming     List recurring payments due soon")
	fmt.Println("  summary      Income, expenses and savings rate for a period")
	fmt.Println("  trend        Month-by-month income and expenses")
	fmt.Println("  spending     Spending by category")
	fmt.Println("  export       Write transactions as CSV")
	fmt.Println("  history      Show recent imports")
	fmt.Println("  sync-notion  Push recurring payments to Notion")
	fmt.Println("  merchant     Resolve a description against the merchant aliases")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// command holds what every subcommand shares once its flags are parsed.
type command struct {
	fs         *flag.FlagSet
	configPath *string
	cfg        *config.Config
	log        zerolog.Logger
}

func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &command{
		fs:         fs,
		configPath: fs.String("config", os.Getenv("FT_CONFIG"), "Path to config YAML (or set FT_CONFIG)"),
	}
}

// parse parses args and loads the configuration.
func (c *command) parse(args []string) {
	c.fs.Parse(args)

	cfg, err := config.Load(*c.configPath)
	if err != nil {
		lg := logger.New()
		lg.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err := logger.Configure(cfg.Logger())
	if err != nil {
		lg := logger.New()
		lg.Fatal().Err(err).Msg("Failed to configure logger")
	}
	c.cfg, c.log = cfg, log
}

func (c *command) context(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return logger.WithContext(ctx, c.log), cancel
}

// storeOnly opens the store for read-only commands.
func (c *command) storeOnly(ctx context.Context) *app.Services {
	svc, err := app.StoreOnly(ctx, c.cfg, c.log)
	if err != nil {
		c.log.Fatal().Err(err).Msg("Failed to open store")
	}
	return svc
}

// periodFlags registers -from and -to and returns a filter builder.
func periodFlags(fs *flag.FlagSet) func(log zerolog.Logger) store.Filter {
	from := fs.String("from", "", "Start date YYYY-MM-DD (inclusive)")
	to := fs.String("to", "", "End date YYYY-MM-DD (inclusive)")

	return func(log zerolog.Logger) store.Filter {
		var f store.Filter
		if *from != "" {
			d, err := civil.ParseDate(*from)
			if err != nil {
				log.Fatal().Err(err).Str("from", *from).Msg("Error: invalid -from date, expected YYYY-MM-DD")
			}
			f.From = &d
		}
		if *to != "" {
			d, err := civil.ParseDate(*to)
			if err != nil {
				log.Fatal().Err(err).Str("to", *to).Msg("Error: invalid -to date, expected YYYY-MM-DD")
			}
			f.To = &d
		}
		if f.From != nil && f.To != nil && f.To.Before(*f.From) {
			log.Fatal().Msg("Error: -to must not be before -from")
		}
		return f
	}
}
