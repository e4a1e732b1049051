package ui

import (
	"strings"

	"github.com/stefanaki/stax/internal/stack"
)

// TreeOptions configures tree rendering.
type TreeOptions struct {
	ShowSHA       bool
	ShowPR        bool
	CurrentBranch string
	GetSHA        func(string) string
}

// RenderTree renders the stack forest rooted at trunk.
func RenderTree(s *stack.Stack, opts TreeOptions) (string, error) {
	var sb strings.Builder
	sb.WriteString(renderBranchLine(s, s.Trunk, opts) + "\n")

	seen := map[string]bool{s.Trunk: true}
	var walk func(branch, prefix string) error
	walk = func(branch, prefix string) error {
		children := s.Children(branch)
		for i, child := range children {
			if seen[child] {
				return stack.ErrCorruptStack
			}
			seen[child] = true

			isLast := i == len(children)-1
			connector, next := IconBranch, IconPipe+"   "
			if isLast {
				connector, next = IconBranchL, "    "
			}
			sb.WriteString(prefix + connector + " " + renderBranchLine(s, child, opts) + "\n")
			if err := walk(child, prefix+next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(s.Trunk, ""); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func renderBranchLine(s *stack.Stack, name string, opts TreeOptions) string {
	var sb strings.Builder

	isCurrent := name == opts.CurrentBranch
	if isCurrent {
		sb.WriteString(IconDot + " ")
	} else {
		sb.WriteString(IconCircle + " ")
	}
	sb.WriteString(BranchName(name, isCurrent))

	if opts.ShowSHA && opts.GetSHA != nil {
		if sha := opts.GetSHA(name); sha != "" {
			sb.WriteString(" " + CommitSHA(sha))
		}
	}

	n := s.Node(name)
	if n == nil {
		return sb.String()
	}
	if opts.ShowPR && n.PR != nil {
		draft := n.PR.IsDraft != nil && *n.PR.IsDraft
		sb.WriteString(" " + PRBadge(n.PR.Number, n.PR.State, draft))
	}
	switch {
	case n.Missing:
		sb.WriteString(" " + red.Sprint("(branch deleted)"))
	case n.ParentMissing:
		sb.WriteString(" " + yellow.Sprint("(parent "+n.Parent+" missing)"))
	case n.NeedsRestack:
		sb.WriteString(" " + yellow.Sprint("(needs restack)"))
	}
	return sb.String()
}
