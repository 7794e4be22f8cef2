package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/gsoltrack/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// newLogger logs errors only unless --verbose is set.
func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClassifier builds a classifier from the --gsol-mint and
// --sunrise-program flags.
func newClassifier(c *cli.Context) (*solana.Classifier, error) {
	mint, err := solanago.PublicKeyFromBase58(c.String("gsol-mint"))
	if err != nil {
		return nil, fmt.Errorf("invalid --gsol-mint: %w", err)
	}
	program, err := solanago.PublicKeyFromBase58(c.String("sunrise-program"))
	if err != nil {
		return nil, fmt.Errorf("invalid --sunrise-program: %w", err)
	}
	return solana.NewClassifier(mint, program), nil
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs filter over the JSON form of v and prints every result.
func outputJQ(w io.Writer, filter string, v interface{}) error {
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only understands plain JSON values.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}

	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			if _, halted := err.(*gojq.HaltError); halted {
				return nil
			}
			return fmt.Errorf("jq filter %q failed: %w", filter, err)
		}
		if s, isString := out.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		if err := outputJSON(w, out); err != nil {
			return err
		}
	}
}

// render writes v as JSON, filtered through --jq when given. It reports
// false when the caller should print its own table instead.
func render(c *cli.Context, v interface{}) (bool, error) {
	if filter := c.String("jq"); filter != "" {
		return true, outputJQ(c.App.Writer, filter, v)
	}
	if c.Bool("json") {
		return true, outputJSON(c.App.Writer, v)
	}
	return false, nil
}
