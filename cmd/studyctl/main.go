// Command studyctl queries a study corpus file offline, with the same
// filter, ranking and spell-check behaviour as the search service. It can
// also ask running searchers to reload and drive them with a load test.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/payload"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	corpusFlag := &cli.StringFlag{
		Name:     "corpus",
		Aliases:  []string{"c"},
		Usage:    "Path to the JSON corpus file",
		Required: true,
	}
	return &cli.App{
		Name:  "studyctl",
		Usage: "Query a study corpus from the command line",

		// facet labels may contain commas
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Optional config file for search and spell thresholds",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			logger.SetupWriter(c.App.ErrWriter, c.String("log-level"), "text")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "query",
				Usage:  "Filter, rank and summarize studies",
				Action: queryCommand,
				Flags: []cli.Flag{
					corpusFlag,
					&cli.StringSliceFlag{Name: "organism", Usage: "Organism label (repeatable)"},
					&cli.StringSliceFlag{Name: "project-type", Usage: "Project type label (repeatable)"},
					&cli.StringSliceFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "Required keyword (repeatable)"},
					&cli.StringFlag{Name: "q", Usage: "Free-text query"},
					&cli.StringFlag{Name: "mode", Usage: "Query mode: and, or or smart", Value: "and"},
					&cli.IntFlag{Name: "min-match", Usage: "Minimum matching terms in or mode"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size"},
					&cli.BoolFlag{Name: "full", Usage: "Include the exported data block"},
				},
			},
			{
				Name:   "spell-check",
				Usage:  "Check a query against the corpus vocabulary",
				Action: spellCheckCommand,
				Flags:  []cli.Flag{corpusFlag},
			},
			{
				Name:   "facets",
				Usage:  "List organism and project type labels with counts",
				Action: facetsCommand,
				Flags:  []cli.Flag{corpusFlag},
			},
			{
				Name:   "study",
				Usage:  "Show one study by id",
				Action: studyCommand,
				Flags:  []cli.Flag{corpusFlag},
			},
			{
				Name:   "reload",
				Usage:  "Ask running searchers to rebuild their snapshot",
				Action: reloadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "manual"},
				},
			},
			loadtestCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func loadSnapshot(c *cli.Context, cfg *config.Config) (*indexer.Snapshot, error) {
	src := corpus.NewFileSource(c.String("corpus"))
	records, err := src.Load(c.Context)
	if err != nil {
		return nil, err
	}
	return indexer.BuildSnapshot(records, src.Name(), indexer.BuildOptions{
		Workers: cfg.Corpus.BuildWorkers,
		Spell:   spell.OptionsFromConfig(cfg.Spell),
	})
}

func queryCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(c, cfg)
	if err != nil {
		return err
	}
	body := parser.Body{
		Organism:    c.StringSlice("organism"),
		ProjectType: c.StringSlice("project-type"),
		Keywords:    c.StringSlice("keyword"),
		Q:           c.String("q"),
		QMode:       c.String("mode"),
		Page:        c.Int("page"),
		PageSize:    c.Int("page-size"),
		Compact:     !c.Bool("full"),
	}
	if c.IsSet("min-match") {
		n := c.Int("min-match")
		body.QMinMatch = &n
	}
	req, err := body.Request()
	if err != nil {
		return err
	}
	builder := payload.NewBuilder(executor.New(cfg.Search, nil), nil, nil, cfg.Search, nil)
	p, err := builder.Build(c.Context, snap, req)
	if err != nil {
		return err
	}
	return printJSON(c, p)
}

func spellCheckCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: studyctl spell-check --corpus FILE QUERY")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(c, cfg)
	if err != nil {
		return err
	}
	return printJSON(c, snap.Spell.CheckQuery(c.Args().First()))
}

func facetsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(c, cfg)
	if err != nil {
		return err
	}
	organisms, projectTypes := snap.Facets()
	return printJSON(c, map[string]any{
		"organisms":     organisms,
		"project_types": projectTypes,
		"records":       snap.Corpus.Len(),
		"skipped":       snap.Stats.Skipped,
	})
}

func studyCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: studyctl study --corpus FILE ID")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(c, cfg)
	if err != nil {
		return err
	}
	rec, err := snap.Study(c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(c, rec)
}

func reloadCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusReload)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	host, _ := os.Hostname()
	event := consumer.ReloadEvent{
		Reason:      c.String("reason"),
		RequestedBy: "studyctl@" + host,
		RequestedAt: time.Now().UTC(),
	}
	if err := producer.Publish(ctx, kafka.Event{Key: "reload", Value: event}); err != nil {
		return fmt.Errorf("publishing reload event: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "reload requested on %s\n", cfg.Kafka.Topics.CorpusReload)
	return nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
