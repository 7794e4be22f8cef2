package main

import (
	"fmt"
	"log"
	"os"

	"github.com/brojonat/gsoltrack/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gsol",
		Usage: "gSOL ledger CLI",
		Description: `A command-line tool for the gsoltrack service.

Use this CLI to backfill and inspect the ledger, query the neighbour graph,
and watch ledger events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "ledger",
				Usage: "Ledger ingest and inspection commands",
				Subcommands: []*cli.Command{
					backfillCommand(),
					classifyCommand(),
					listTransactionsCommand(),
				},
			},
			{
				Name:  "query",
				Usage: "Query the HTTP API",
				Subcommands: []*cli.Command{
					neighboursCommand(),
					leaderboardCommand(),
				},
			},
			{
				Name:  "nats",
				Usage: "Ledger event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "gsoltrack server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Solana RPC endpoint(s), comma-separated",
			EnvVars: []string{"SOLANA_RPC_URL"},
			Value:   "https://api.mainnet-beta.solana.com",
		},
		&cli.StringFlag{
			Name:    "gsol-mint",
			Usage:   "gSOL token mint address",
			EnvVars: []string{"GSOL_MINT_ADDRESS"},
			Value:   config.DefaultGSOLMint,
		},
		&cli.StringFlag{
			Name:    "sunrise-program",
			Usage:   "Sunrise Stake program id",
			EnvVars: []string{"SUNRISE_PROGRAM_ID"},
			Value:   config.DefaultSunriseProgramID,
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Log debug output to stderr",
		},
	}
}
