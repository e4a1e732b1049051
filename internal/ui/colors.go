// Package ui provides terminal UI helpers for the CLI.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Icons for status display.
const (
	IconWarning  = "⚠"
	IconInfo     = "ℹ"
	IconArrow    = "▶"
	IconBullet   = "▸"
	IconCheck    = "✓"
	IconCross    = "✗"
	IconBranch   = "├──"
	IconBranchL  = "└──"
	IconPipe     = "│"
	IconDot      = "●"
	IconCircle   = "○"
	IconRollback = "⏪"
	IconRedo     = "⏩"
	IconRestack  = "⟳"
)

var (
	green   = color.New(color.FgGreen)
	red     = color.New(color.FgRed)
	yellow  = color.New(color.FgYellow)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	blue    = color.New(color.FgBlue)
	bold    = color.New(color.Bold)
	dim     = color.New(color.Faint)
	current = color.New(color.FgGreen, color.Bold)
)

// DisableColor turns off all color output.
func DisableColor() {
	color.NoColor = true
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	Fsuccess(os.Stdout, format, args...)
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	Ferror(os.Stderr, format, args...)
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	Fwarning(os.Stderr, format, args...)
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	Finfo(os.Stdout, format, args...)
}

// Fsuccess writes a success message to w.
func Fsuccess(w io.Writer, format string, args ...interface{}) {
	green.Fprintf(w, IconCheck+" "+format+"\n", args...)
}

// Ferror writes an error message to w.
func Ferror(w io.Writer, format string, args ...interface{}) {
	red.Fprintf(w, IconCross+" "+format+"\n", args...)
}

// Fwarning writes a warning message to w.
func Fwarning(w io.Writer, format string, args ...interface{}) {
	yellow.Fprintf(w, IconWarning+" "+format+"\n", args...)
}

// Finfo writes an info message to w.
func Finfo(w io.Writer, format string, args ...interface{}) {
	cyan.Fprintf(w, IconInfo+" "+format+"\n", args...)
}

// Fstep writes an indented progress line to w.
func Fstep(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "  %s %s\n", dim.Sprint(IconBullet), fmt.Sprintf(format, args...))
}

// Header prints a header.
func Header(format string, args ...interface{}) {
	bold.Printf(format+"\n", args...)
}

// DimText prints dimmed text.
func DimText(format string, args ...interface{}) {
	dim.Printf(format+"\n", args...)
}

// Bold formats text in bold.
func Bold(text string) string {
	return bold.Sprint(text)
}

// Dim formats dimmed text.
func Dim(text string) string {
	return dim.Sprint(text)
}

// Command formats a command the user can run.
func Command(text string) string {
	return cyan.Sprint(text)
}

// Highlight formats text in yellow.
func Highlight(text string) string {
	return yellow.Sprint(text)
}

// BranchName formats a branch name.
func BranchName(name string, isCurrent bool) string {
	if isCurrent {
		return current.Sprint(name)
	}
	return name
}

// CommitSHA formats a commit SHA.
func CommitSHA(sha string) string {
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return dim.Sprint(sha)
}

// PRBadge formats a PR number badge.
func PRBadge(number int, state string, draft bool) string {
	c := blue
	switch state {
	case "MERGED", "merged":
		c = magenta
	case "CLOSED", "closed":
		c = red
	}
	if draft {
		c = dim
	}
	return c.Sprintf("#%d", number)
}

// Plural picks the singular or plural form for n.
func Plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
