package output

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))  // dark green
	success2Style = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))   // green
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250")) // light grey
)

var StyleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"bullet":  "•",
}

// PrintError and PrintWarning prefix text with their status symbol.
func PrintError(w io.Writer, text string) {
	fmt.Fprintln(w, errorStyle.Render(StyleSymbols["fail"]+" "+text))
}

func PrintWarning(w io.Writer, text string) {
	fmt.Fprintln(w, warningStyle.Render(StyleSymbols["warning"]+" "+text))
}

func FSuccess(text string) string {
	return successStyle.Render(text)
}
