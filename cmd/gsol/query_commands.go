package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/brojonat/gsoltrack/client"
	"github.com/brojonat/gsoltrack/service/ledger"
	"github.com/urfave/cli/v2"
)

func jqFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "jq",
		Usage: "jq filter applied to the JSON response",
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) *client.Client {
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, newLogger(c))
}

func neighboursCommand() *cli.Command {
	return &cli.Command{
		Name:      "neighbours",
		Usage:     "Show the neighbour graph of an address with balances",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "degree",
				Aliases: []string{"d"},
				Usage:   "Traversal degree (omit for the server default)",
				Value:   -1,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Request timeout",
				Value:   90 * time.Second,
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: address")
			}

			n, err := newAPIClient(c, c.Duration("timeout")).GetNeighbours(c.Context, c.Args().First(), c.Int("degree"))
			if err != nil {
				return fmt.Errorf("failed to get neighbours: %w", err)
			}

			if done, err := render(c, n); done {
				return err
			}
			return printNeighbours(c, n)
		},
	}
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "Show referral counts per referrer",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "from",
				Usage: "Window start, unix milliseconds",
			},
			&cli.Int64Flag{
				Name:  "to",
				Usage: "Window end, unix milliseconds",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			var from, to *time.Time
			if c.IsSet("from") {
				t := time.UnixMilli(c.Int64("from"))
				from = &t
			}
			if c.IsSet("to") {
				t := time.UnixMilli(c.Int64("to"))
				to = &t
			}

			rows, err := newAPIClient(c, 30*time.Second).GetLeaderboard(c.Context, from, to)
			if err != nil {
				return fmt.Errorf("failed to get leaderboard: %w", err)
			}

			if done, err := render(c, rows); done {
				return err
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tREFERRER\tREFERRALS")
			for i, r := range rows {
				fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, r.Referrer, r.Count)
			}
			return w.Flush()
		},
	}
}

func printNeighbours(c *cli.Context, n *client.Neighbours) error {
	out := c.App.Writer
	fmt.Fprintf(out, "Address:        %s\n", n.Address)
	fmt.Fprintf(out, "Degree:         %d\n", n.Degree)
	fmt.Fprintf(out, "First Transfer: %s\n", formatOptionalTime(n.FirstTransfer))
	fmt.Fprintf(out, "Last Transfer:  %s\n", formatOptionalTime(n.LastTransfer))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nDIRECTION\tDEGREE\tSENDER\tRECIPIENT\tBALANCE")
	writeRows := func(direction string, rows []ledger.AugmentedNeighbour) {
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.9f\n",
				direction, r.Degree, r.Sender, r.Recipient, r.Balance)
		}
	}
	writeRows("out", n.Neighbours.SenderResult)
	writeRows("in", n.Neighbours.RecipientResult)
	return w.Flush()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "(none)"
	}
	return t.UTC().Format(time.RFC3339)
}
