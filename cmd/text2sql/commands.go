package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/cortexai/text2sql/internal/agent"
	"github.com/cortexai/text2sql/internal/config"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
	"github.com/cortexai/text2sql/internal/server"
	"github.com/cortexai/text2sql/internal/service"
)

// loadConfig reads the configuration and sets up the global logger from it.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := server.Build(ctx, cfg)
			if err != nil {
				return err
			}
			return server.New(cfg, c).Run(ctx)
		},
	}
}

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Turn a question into SQL, validate it and print the result as JSON",
		ArgsUsage: " <question>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "metadata", Aliases: []string{"m"}, Usage: "annotate the schema with column metadata"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if question == "" {
				return errors.New("expected a question")
			}
			c, err := build(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			withMetadata := cmd.Bool("metadata")
			res := c.Pipeline.AskWith(ctx, agent.Request{Question: question, IncludeMetadata: &withMetadata})
			if err := printJSON(res); err != nil {
				return err
			}
			return res.Err()
		},
	}
}

func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the schema text the model is prompted with",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "metadata", Aliases: []string{"m"}, Usage: "include column metadata annotations"},
			&cli.BoolFlag{Name: "json", Usage: "print the snapshot as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := build(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			withMetadata := cmd.Bool("metadata")
			snap, err := c.Pipeline.Describe(ctx, withMetadata)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(snap)
			}
			fmt.Println(schema.Render(snap, withMetadata))
			return nil
		},
	}
}

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check SQL with the safety validator without running it",
		ArgsUsage: " <sql>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sql := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(sql) == "" {
				return errors.New("expected SQL text")
			}
			c, err := build(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			verdict := c.Pipeline.Validate(ctx, sql)
			fmt.Printf("Accepted:  %t\n", verdict.Accepted)
			fmt.Printf("Read-only: %t\n", security.IsReadOnly(sql))
			fmt.Printf("Sanitized: %s\n", security.Sanitize(sql))
			for _, r := range verdict.Reasons {
				fmt.Printf("  - %s\n", r)
			}
			if !verdict.Accepted {
				return errors.New("sql rejected")
			}
			return nil
		},
	}
}

func SeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load the demo employees dataset into the configured database",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "opaque",
				Aliases: []string{"meaningless"},
				Usage:   "use meaningless table and column names plus a column metadata table",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := service.Open(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			seeder, ok := db.(service.Seeder)
			if !ok {
				return fmt.Errorf("driver %s cannot load the demo dataset", cfg.DatabaseDriver)
			}
			opts := service.SeedOptions{Opaque: cmd.Bool("opaque"), MetadataTable: cfg.MetadataTable}
			if err := service.Seed(ctx, seeder, opts); err != nil {
				return err
			}
			fmt.Println("demo dataset ready")
			return nil
		},
	}
}

func build(ctx context.Context, cmd *cli.Command) (*server.Components, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return server.Build(ctx, cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
