package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spigell/assessment-recommender/internal/recommend"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Width(16)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Italic(true)
	cardStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#45475A")).
			Padding(0, 1)
)

func renderResult(w io.Writer, result *recommend.Result) error {
	if result.Empty || len(result.Recommendations) == 0 {
		message := result.Message
		if message == "" {
			message = recommend.NoMatchesMessage
		}
		_, err := fmt.Fprintln(w, mutedStyle.Render(message))
		return err
	}

	var header strings.Builder
	fmt.Fprintf(&header, "%d recommendation(s)", len(result.Recommendations))
	if result.MaxDuration != nil {
		fmt.Fprintf(&header, ", up to %d minutes", *result.MaxDuration)
	}
	if _, err := fmt.Fprintln(w, mutedStyle.Render(header.String())); err != nil {
		return err
	}

	for i, rec := range result.Recommendations {
		if _, err := fmt.Fprintln(w, renderRecommendation(i+1, rec)); err != nil {
			return err
		}
	}
	return nil
}

func renderRecommendation(n int, rec recommend.Recommendation) string {
	rows := []string{
		titleStyle.Render(fmt.Sprintf("%d. %s", n, rec.Name)),
		row("URL", rec.URL),
		row("Remote testing", rec.RemoteTesting),
		row("Adaptive/IRT", rec.AdaptiveSupport),
		row("Duration", rec.DurationDisplay),
		row("Test type", rec.TestTypeDescription),
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}
