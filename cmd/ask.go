package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

var asJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, true, backendMemory)
		if err != nil {
			return err
		}
		defer a.Close()
		return ask(cmd, a.runner, strings.Join(args, " "))
	},
}

func ask(cmd *cobra.Command, runner graph.Runner, question string) error {
	out := cmd.OutOrStdout()
	var opts []graph.TurnOption
	if !asJSON {
		opts = append(opts, graph.WithStreamSink(func(chunk string) { fmt.Fprint(out, chunk) }))
	}

	res, err := runner.HandleTurn(cmd.Context(), question, nil, opts...)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		// the session and document bytes are noise on a terminal
		view := *res
		view.Session = nil
		if view.Attachment != nil {
			view.Attachment = &model.Attachment{Filename: res.Attachment.Filename, ContentType: res.Attachment.ContentType}
		}
		if err := enc.Encode(view); err != nil {
			return err
		}
	} else {
		printTurn(out, res, showSidebar)
	}

	path, err := saveAttachment(outDir, res.Attachment)
	if err != nil {
		return err
	}
	if path != "" && !asJSON {
		fmt.Fprintln(out, noticeStyle.Render("documento guardado en "+path))
	}
	return nil
}

func init() {
	askCmd.Flags().BoolVar(&asJSON, "json", false, "Print the full turn result as JSON")
	askCmd.Flags().BoolVar(&showSidebar, "evidence", false, "Print the evidence sidebar")
	askCmd.Flags().StringVar(&outDir, "out", ".", "Directory where generated documents are written")
	rootCmd.AddCommand(askCmd)
}
