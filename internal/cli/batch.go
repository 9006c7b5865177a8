package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type BatchCmd struct{}

func NewBatchCmd() *BatchCmd {
	return &BatchCmd{}
}

func (c *BatchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one session per question in a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("file")
			if err != nil {
				return fmt.Errorf("failed to get file flag: %w", err)
			}
			concurrency, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return fmt.Errorf("failed to get concurrency flag: %w", err)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open questions file: %w", err)
			}
			questions, err := readQuestions(f)
			f.Close()
			if err != nil {
				return err
			}
			if len(questions) == 0 {
				return fmt.Errorf("no questions in %s", path)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			if concurrency == 0 {
				concurrency = a.cfg.Pipeline.Concurrency
			}
			if err := a.startService(ctx, concurrency); err != nil {
				return err
			}

			sessions, err := a.service.Batch(ctx, questions)
			printSummary(cmd.OutOrStdout(), sessions)
			if err != nil {
				return err
			}

			failed := 0
			for _, s := range sessions {
				if s.Err() != nil {
					failed++
				}
			}
			a.log.Info("batch complete", "sessions", len(sessions), "failed", failed)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "file with one question per line; blank lines and # comments are skipped")
	cmd.Flags().Int("concurrency", 0, "sessions run in parallel (overrides config)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readQuestions(r io.Reader) ([]string, error) {
	var questions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return questions, nil
}
