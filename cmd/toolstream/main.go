// Command toolstream replays scripted sessions through the engine and prints the event stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skosovsky/toolstream"
	"github.com/skosovsky/toolstream/internal/script"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "toolstream",
		Short:        "Replay scripted tool-calling sessions",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringP("file", "f", "", "path to the replay script (YAML)")
	_ = root.MarkPersistentFlagRequired("file")
	root.AddCommand(newReplayCmd(), newToolsCmd())
	return root
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run the script and print every event as a JSON line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			batch, _ := cmd.Flags().GetBool("batch")
			level, _ := cmd.Flags().GetString("log-level")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			s, err := script.Load(path)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), level)
			if err != nil {
				return err
			}
			reg, err := s.Registry(toolstream.WithDefaultTimeout(timeout))
			if err != nil {
				return err
			}
			reg.Use(toolstream.WithLogging(logger))
			opts := append(s.EngineOptions(), toolstream.WithLogger(logger))
			eng := toolstream.NewEngine(s.Model(), reg, opts...)

			enc := json.NewEncoder(cmd.OutOrStdout())
			if batch {
				res, err := eng.Generate(cmd.Context(), s.Messages())
				for _, ev := range res.Events {
					if encErr := enc.Encode(ev); encErr != nil {
						return encErr
					}
				}
				return err
			}
			res := eng.Stream(cmd.Context(), s.Messages())
			events := res.Subscribe(nil)
			res.Start()
			for ev := range events.C() {
				if err := enc.Encode(ev); err != nil {
					events.Close()
					_, _ = res.Wait()
					return err
				}
			}
			_, err = res.Wait()
			return err
		},
	}
	cmd.Flags().Bool("batch", false, "run without incremental consumption (tools dispatch after each round)")
	cmd.Flags().String("log-level", "warn", "log level: debug, info, warn or error")
	cmd.Flags().Duration("timeout", 30*time.Second, "default per-tool timeout")
	return cmd
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool definitions of the script",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			s, err := script.Load(path)
			if err != nil {
				return err
			}
			reg, err := s.Registry()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reg.Definitions())
		},
	}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
