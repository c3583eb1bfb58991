package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("text2sql failed")
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "text2sql",
		Usage: "Answer natural-language questions with validated, read-only SQL",
		Description: `text2sql describes a relational database, asks a language model for a query,
checks the query with the SQL safety validator and runs it inside a rolled-back
transaction. Settings come from a YAML file, a .env file and the environment.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file (default: $TEXT2SQL_CONFIG)",
			},
		},
		Commands: []*cli.Command{
			ServeCommand(),
			AskCommand(),
			SchemaCommand(),
			ValidateCommand(),
			SeedCommand(),
		},
	}
}
