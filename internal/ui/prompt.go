package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Prompter asks yes/no questions on a terminal.
type Prompter struct {
	reader *bufio.Reader
	w      io.Writer
}

// NewPrompter creates a prompter reading answers from r.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{reader: bufio.NewReader(r), w: w}
}

// IsInteractive reports whether r is a terminal.
func IsInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Confirm asks a yes/no question. An empty answer picks def.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	if p.reader == nil {
		return false, errors.New("missing reader")
	}
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for attempts := 0; attempts < 3; attempts++ {
		fmt.Fprintf(p.w, "%s [%s]: ", question, hint)
		line, err := p.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "":
			return def, nil
		}
		if err == io.EOF {
			return def, nil
		}
		fmt.Fprintln(p.w, "Please answer yes or no.")
	}
	return def, nil
}
