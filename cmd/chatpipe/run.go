package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/pipeline"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PIPELINE_FILE",
		Short: "Run a pipeline once for a single message",
		Long: `Run executes a pipeline definition for one message and prints the result.
The message is read from --message, or from stdin when the flag is empty.`,
		Args: cobra.ExactArgs(1),
		RunE: runPipeline,
	}
	cmd.Flags().StringP("message", "m", "", "Participant message")
	cmd.Flags().String("participant", "cli", "Participant id")
	cmd.Flags().String("session", "cli", "Session id")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	g, err := pipeline.LoadFile(args[0])
	if err != nil {
		return err
	}

	message, _ := cmd.Flags().GetString("message")
	if message == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		message = strings.TrimSpace(string(data))
	}
	participant, _ := cmd.Flags().GetString("participant")
	session, _ := cmd.Flags().GetString("session")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	res, runErr := engine.New(opts...).Run(ctx, engine.Input{
		Graph:   g,
		Message: message,
		Session: engine.Session{ParticipantID: participant, SessionID: session},
	})

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	return runErr
}
