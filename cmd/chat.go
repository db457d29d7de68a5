package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/techfriendly/xpider-huelva/internal/agent/graph"
	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

var (
	showSidebar bool
	outDir      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation kept in memory for this process.

Commands:
  /nueva    start a new conversation
  /salir    exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, true, backendMemory)
		if err != nil {
			return err
		}
		defer a.Close()
		return chatLoop(cmd, a.runner, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func chatLoop(cmd *cobra.Command, runner graph.Runner, in io.Reader, out io.Writer) error {
	ctx := cmd.Context()
	session := model.NewSession(uuid.NewString())
	fmt.Fprintln(out, metaStyle.Render("conversación "+session.ID+" · /salir para terminar"))

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, promptStyle.Render("› "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/salir", "/exit", "/quit":
			return nil
		case "/nueva", "/new":
			session = model.NewSession(uuid.NewString())
			fmt.Fprintln(out, metaStyle.Render("conversación "+session.ID))
			continue
		}

		res, err := runner.HandleTurn(ctx, line, session, graph.WithStreamSink(func(chunk string) {
			fmt.Fprint(out, chunk)
		}))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(out, errorStyle.Render("Error: ")+err.Error())
			continue
		}
		session = res.Session
		printTurn(out, res, showSidebar)
		if path, err := saveAttachment(outDir, res.Attachment); err != nil {
			fmt.Fprintln(out, errorStyle.Render("Error: ")+err.Error())
		} else if path != "" {
			fmt.Fprintln(out, noticeStyle.Render("documento guardado en "+path))
		}
	}
}

func init() {
	chatCmd.Flags().BoolVar(&showSidebar, "evidence", false, "Print the evidence sidebar after each answer")
	chatCmd.Flags().StringVar(&outDir, "out", ".", "Directory where generated documents are written")
	rootCmd.AddCommand(chatCmd)
}
