// Package printer renders CLI output with colour: status lines, formatted
// errors for cobra commands, and per-expert speaker labels.
package printer

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/fatih/color"
)

func init() {
	// Colour stays on when piped; NO_COLOR disables it
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// speakerPalette is cycled through by expert id. Red is reserved for errors.
var speakerPalette = []*color.Color{
	color.New(color.FgCyan, color.Bold),
	color.New(color.FgMagenta, color.Bold),
	color.New(color.FgYellow, color.Bold),
	color.New(color.FgBlue, color.Bold),
	color.New(color.FgGreen, color.Bold),
	color.New(color.FgHiCyan),
	color.New(color.FgHiMagenta),
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Step prints an emphasised progress line.
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled error with an explanation and numbered suggestions to
// stderr, and returns an error carrying only the title for cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with extra key/value details printed between the
// explanation and the suggestions.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	writeError(os.Stderr, title, explanation, context, suggestions)
	return fmt.Errorf("%s", title)
}

func writeError(w io.Writer, title, explanation string, context map[string]string, suggestions []string) {
	red.Fprintf(w, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(w, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(w, "\n")
		for key, value := range context {
			fmt.Fprintf(w, "  %s: %s\n", key, value)
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(w, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(w, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, suggestion)
		}
	}
}

// SpeakerColor returns the colour used for an expert's name. The same id
// always maps to the same colour.
func SpeakerColor(expertID string) *color.Color {
	h := fnv.New32a()
	h.Write([]byte(expertID))
	return speakerPalette[h.Sum32()%uint32(len(speakerPalette))]
}

// Speaker renders a bracketed, coloured speaker label.
func Speaker(expertID, name string) string {
	if name == "" {
		name = expertID
	}
	return SpeakerColor(expertID).Sprintf("[%s]", name)
}

// StatusLabel colours a session status: green when completed, red when
// cancelled, cyan while active.
func StatusLabel(status blackboard.SessionStatus) string {
	switch status {
	case blackboard.SessionStatusCompleted:
		return green.Sprint(status)
	case blackboard.SessionStatusCancelled:
		return red.Sprint(status)
	case blackboard.SessionStatusActive:
		return cyan.Sprint(status)
	default:
		return string(status)
	}
}

// Faint renders secondary text such as timestamps.
func Faint(format string, a ...any) string {
	return faint.Sprintf(format, a...)
}

// Println prints a plain message
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}
