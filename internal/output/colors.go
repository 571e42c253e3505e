package output

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Method      *color.Color
	URL         *color.Color
	StatusOK    *color.Color
	StatusWarn  *color.Color
	StatusError *color.Color
	HeaderKey   *color.Color
	Name        *color.Color
	Success     *color.Color
	Error       *color.Color
	Dim         *color.Color
}

// NewColorScheme returns the default scheme, or one with every color
// disabled when noColor is set.
func NewColorScheme(noColor bool) *ColorScheme {
	s := &ColorScheme{
		Method:      color.New(color.FgBlue, color.Bold),
		URL:         color.New(color.FgCyan),
		StatusOK:    color.New(color.FgGreen, color.Bold),
		StatusWarn:  color.New(color.FgYellow, color.Bold),
		StatusError: color.New(color.FgRed, color.Bold),
		HeaderKey:   color.New(color.FgYellow),
		Name:        color.New(color.FgMagenta, color.Bold),
		Success:     color.New(color.FgGreen),
		Error:       color.New(color.FgRed),
		Dim:         color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{s.Method, s.URL, s.StatusOK, s.StatusWarn, s.StatusError, s.HeaderKey, s.Name, s.Success, s.Error, s.Dim} {
			c.DisableColor()
		}
	}
	return s
}

// Status picks the color for an HTTP status code.
func (s *ColorScheme) Status(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return s.StatusOK
	case code >= 300 && code < 400:
		return s.StatusWarn
	default:
		return s.StatusError
	}
}

// Terminal reports whether f is an interactive terminal.
func Terminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
