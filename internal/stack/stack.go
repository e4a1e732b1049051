package stack

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Stack is the forest of tracked branches rooted at trunk. It is derived
// from metadata on every load and never persisted.
type Stack struct {
	Trunk string

	nodes []Node
	index map[string]int
}

// Load reads all branch metadata and builds the stack forest.
func Load(store Store, trunk string) (*Stack, error) {
	branches, err := store.MetadataBranches()
	if err != nil {
		return nil, errors.Wrap(err, "list tracked branches")
	}

	s := &Stack{
		Trunk: trunk,
		nodes: []Node{{Name: trunk}},
		index: map[string]int{trunk: 0},
	}

	tips := map[string]string{}
	tip := func(branch string) (string, bool, error) {
		if oid, ok := tips[branch]; ok {
			return oid, oid != "", nil
		}
		oid, ok, err := store.BranchCommit(branch)
		if err != nil {
			return "", false, err
		}
		tips[branch] = oid
		return oid, ok, nil
	}

	for _, name := range branches {
		if name == trunk {
			continue
		}
		m, err := ReadMetadata(store, name)
		if err != nil {
			return nil, err
		}
		_, exists, err := tip(name)
		if err != nil {
			return nil, err
		}
		s.index[name] = len(s.nodes)
		s.nodes = append(s.nodes, Node{
			Name:     name,
			Parent:   m.ParentBranchName,
			Revision: m.ParentBranchRevision,
			Missing:  !exists,
			PR:       m.PRInfo,
		})
	}

	for i := 1; i < len(s.nodes); i++ {
		n := &s.nodes[i]
		parentTip, ok, err := tip(n.Parent)
		if err != nil {
			return nil, err
		}
		n.NeedsRestack = ok && parentTip != n.Revision

		p, tracked := s.index[n.Parent]
		if !tracked {
			n.ParentMissing = true
			p = 0
		}
		s.nodes[p].Children = append(s.nodes[p].Children, n.Name)
	}

	for i := range s.nodes {
		sort.Strings(s.nodes[i].Children)
	}
	return s, nil
}

// Node returns the node for a branch, or nil when it is not part of the
// stack.
func (s *Stack) Node(branch string) *Node {
	i, ok := s.index[branch]
	if !ok {
		return nil
	}
	return &s.nodes[i]
}

// Tracked reports whether a branch has metadata.
func (s *Stack) Tracked(branch string) bool {
	_, ok := s.index[branch]
	return ok && branch != s.Trunk
}

// Parent returns the declared parent of a branch. It returns "" for
// trunk, untracked branches and branches whose parent is missing.
func (s *Stack) Parent(branch string) string {
	n := s.Node(branch)
	if n == nil || n.ParentMissing {
		return ""
	}
	return n.Parent
}

// Children returns a branch's children sorted by name.
func (s *Stack) Children(branch string) []string {
	n := s.Node(branch)
	if n == nil {
		return nil
	}
	return append([]string(nil), n.Children...)
}

// Siblings returns the other children of a branch's parent.
func (s *Stack) Siblings(branch string) []string {
	n := s.Node(branch)
	if n == nil || n.IsTrunk() {
		return nil
	}
	parent := s.Trunk
	if !n.ParentMissing {
		parent = n.Parent
	}
	var out []string
	for _, c := range s.Node(parent).Children {
		if c != branch {
			out = append(out, c)
		}
	}
	return out
}

// Ancestors returns the parent chain of a branch, nearest first, up to
// but excluding trunk.
func (s *Stack) Ancestors(branch string) ([]string, error) {
	var out []string
	seen := map[string]bool{branch: true}
	for cur := s.Parent(branch); cur != "" && cur != s.Trunk; cur = s.Parent(cur) {
		if seen[cur] {
			return nil, errors.Wrapf(ErrCorruptStack, "walking ancestors of %s", branch)
		}
		seen[cur] = true
		out = append(out, cur)
	}
	return out, nil
}

// Descendants returns every branch below branch in pre-order, children
// visited in name order.
func (s *Stack) Descendants(branch string) ([]string, error) {
	var out []string
	seen := map[string]bool{branch: true}
	var walk func(name string) error
	walk = func(name string) error {
		n := s.Node(name)
		if n == nil {
			return nil
		}
		for _, c := range n.Children {
			if seen[c] {
				return errors.Wrapf(ErrCorruptStack, "walking descendants of %s", branch)
			}
			seen[c] = true
			out = append(out, c)
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(branch); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentStack returns the ancestors of branch (root-most first), branch
// itself and its descendants. Trunk is never included.
func (s *Stack) CurrentStack(branch string) ([]string, error) {
	ancestors, err := s.Ancestors(branch)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, ancestors[i])
	}
	if branch != s.Trunk {
		out = append(out, branch)
	}
	descendants, err := s.Descendants(branch)
	if err != nil {
		return nil, err
	}
	return append(out, descendants...), nil
}

// Upstack returns branch followed by its descendants.
func (s *Stack) Upstack(branch string) ([]string, error) {
	descendants, err := s.Descendants(branch)
	if err != nil {
		return nil, err
	}
	return append([]string{branch}, descendants...), nil
}

// All returns every tracked branch in pre-order from trunk. Branches
// whose parent chain loops without reaching trunk make it fail with
// ErrCorruptStack.
func (s *Stack) All() ([]string, error) {
	all, err := s.Descendants(s.Trunk)
	if err != nil {
		return nil, err
	}
	if len(all) == len(s.nodes)-1 {
		return all, nil
	}
	reached := make(map[string]bool, len(all))
	for _, b := range all {
		reached[b] = true
	}
	var lost []string
	for _, n := range s.nodes[1:] {
		if !reached[n.Name] {
			lost = append(lost, n.Name)
		}
	}
	return nil, errors.Wrapf(ErrCorruptStack, "unreachable from %s: %s", s.Trunk, strings.Join(lost, ", "))
}

// NeedsRestack returns the branches whose parent moved, trunk-first.
func (s *Stack) NeedsRestack() ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, b := range all {
		if s.Node(b).NeedsRestack {
			out = append(out, b)
		}
	}
	return out, nil
}

// RestackPlan selects, in scope order, the branches that must be rebased:
// those whose parent moved and those whose parent is rebased earlier in
// the same plan. scope must list parents before children.
func (s *Stack) RestackPlan(scope []string) []string {
	planned := map[string]bool{}
	var out []string
	for _, b := range scope {
		n := s.Node(b)
		if n == nil || n.IsTrunk() || n.Missing {
			continue
		}
		if n.NeedsRestack || planned[n.Parent] {
			planned[b] = true
			out = append(out, b)
		}
	}
	return out
}

// Depth returns the number of edges between a branch and trunk.
func (s *Stack) Depth(branch string) (int, error) {
	if branch == s.Trunk {
		return 0, nil
	}
	ancestors, err := s.Ancestors(branch)
	if err != nil {
		return 0, err
	}
	return len(ancestors) + 1, nil
}

// Validate reports cycles, branches with missing parents and metadata
// left behind by deleted branches.
func (s *Stack) Validate() []ValidationError {
	var problems []ValidationError
	for i := 1; i < len(s.nodes); i++ {
		n := &s.nodes[i]
		switch {
		case n.Parent == n.Name:
			problems = append(problems, ValidationError{Branch: n.Name, Message: "branch is its own parent"})
			continue
		case n.ParentMissing:
			problems = append(problems, ValidationError{Branch: n.Name, Message: "parent " + n.Parent + " is not tracked"})
		}
		if n.Missing {
			problems = append(problems, ValidationError{Branch: n.Name, Message: "branch no longer exists"})
		}
		if _, err := s.Ancestors(n.Name); errors.Is(err, ErrCorruptStack) {
			problems = append(problems, ValidationError{Branch: n.Name, Message: "parent chain forms a cycle"})
		}
	}
	return problems
}
