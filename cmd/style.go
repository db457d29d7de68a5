package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	sidebarTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				MarginTop(1)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	suggestionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			PaddingLeft(2)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// printTurn writes the answer (unless it was already streamed) and the turn metadata.
func printTurn(w io.Writer, res *model.TurnResult, showSidebar bool) {
	if !res.Streamed {
		fmt.Fprintln(w, res.Answer)
	} else {
		fmt.Fprintln(w)
	}
	if res.Failed {
		fmt.Fprintln(w, noticeStyle.Render("(la consulta no se pudo completar)"))
	}
	if showSidebar && res.Sidebar.Title != "" {
		fmt.Fprintln(w, sidebarTitleStyle.Render(res.Sidebar.Title))
		fmt.Fprintln(w, metaStyle.Render(strings.TrimSpace(res.Sidebar.Markdown)))
	}
	if len(res.Suggestions) > 0 {
		fmt.Fprintln(w, sidebarTitleStyle.Render("Sugerencias"))
		for _, s := range res.Suggestions {
			fmt.Fprintln(w, suggestionStyle.Render("• "+s))
		}
	}
	fmt.Fprintln(w, metaStyle.Render(fmt.Sprintf("ruta: %s · intención: %s · coste: $%.5f",
		strings.Join(res.Route, " → "), res.Intent.Category, res.CostUSD)))
}

// saveAttachment writes a generated document under dir and returns its path.
func saveAttachment(dir string, a *model.Attachment) (string, error) {
	if a == nil {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(a.Filename))
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}
