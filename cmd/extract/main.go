// Command extract shows what the pipeline sees in a statement: the raw lines
// and, with -parse, the records the model returns and how they normalize.
// Nothing is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/extractor"
	"github.com/dvloznov/finance-ingest/internal/llm"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/dvloznov/finance-ingest/internal/source"
)

func main() {
	configPath := flag.String("config", os.Getenv("FT_CONFIG"), "Path to config YAML (or set FT_CONFIG)")
	kindFlag := flag.String("kind", "", "Force file kind: csv or pdf (default: detect)")
	parse := flag.Bool("parse", false, "Also run the model and the normalizer")
	flag.Parse()

	log := logger.New()

	if flag.NArg() != 1 {
		log.Fatal().Msg("Usage: extract [options] FILE")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	stmt, err := source.NewLoader(nil, 0).Fetch(ctx, flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}

	kind := domain.ParseFileKind(*kindFlag)
	if kind == "" {
		kind = domain.DetectFileKind(stmt.Filename, stmt.Data)
	}

	lines, err := extractor.Extract(stmt.Data, kind)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	fmt.Printf("=== %s: %d lines (%s) ===\n", stmt.Filename, len(lines), kind)
	for _, l := range lines {
		if l.Page > 0 {
			fmt.Printf("p%-3d %4d  %s\n", l.Page, l.Index, l.Text)
		} else {
			fmt.Printf("     %4d  %s\n", l.Index, l.Text)
		}
	}

	if !*parse {
		return
	}

	client, err := llm.New(ctx, cfg.LLMClient())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create model client")
	}
	aliases, err := merchant.NewSource(cfg.AliasesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load merchant aliases")
	}

	rules, err := normalize.NewRuleSource(cfg.CategoryRulesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load category rules")
	}

	categories := normalize.NewCategorySet(cfg.Categories)
	parser := pipeline.NewParser(client, categories, cfg.Parser(), nil, pipeline.WithRules(rules))
	norm := normalize.New(cfg.Normalize(), aliases.Current(), categories)

	res, err := parser.Parse(ctx, lines)
	if err != nil {
		log.Error().Err(err).Int("batches_completed", res.BatchesCompleted).Msg("Parsing stopped early")
	}

	fmt.Printf("\n=== %d provisional records ===\n", len(res.Transactions))
	meta := normalize.Meta{SourceFile: stmt.Filename, ImportedAt: time.Now()}
	for i, p := range res.Transactions {
		fmt.Printf("\n%d. %q %q amount=%q balance=%q type=%q category=%q\n",
			i+1, p.Date, p.Description, p.Amount, p.Balance, p.Type, p.Category)

		tx, err := norm.Normalize(p, meta)
		if err != nil {
			fmt.Printf("   dropped: %v\n", err)
			continue
		}
		fmt.Printf("   -> %s %s %s [%s] merchant=%s\n",
			tx.Date, tx.Amount.StringFixed(2), tx.Description, tx.Category, tx.MerchantName())
	}

	for _, reason := range res.Malformed {
		fmt.Printf("\nmalformed: %s\n", reason)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
