package ui

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanaki/stax/internal/stack"
)

type treeStore map[string]*stack.BranchMetadata

func (s treeStore) ReadMetadata(branch string) ([]byte, bool, error) {
	m, ok := s[branch]
	if !ok {
		return nil, false, nil
	}
	data, err := m.Marshal()
	return data, true, err
}

func (s treeStore) WriteMetadata(string, []byte) (string, error) { return "", nil }
func (s treeStore) DeleteMetadata(string) error                  { return nil }

func (s treeStore) MetadataBranches() ([]string, error) {
	var out []string
	for b := range s {
		out = append(out, b)
	}
	sort.Strings(out)
	return out, nil
}

func (s treeStore) BranchCommit(branch string) (string, bool, error) {
	if branch == "main" {
		return "m2", true, nil
	}
	_, ok := s[branch]
	return branch, ok, nil
}

func TestRenderTree(t *testing.T) {
	color.NoColor = true
	s, err := stack.Load(treeStore{
		"a": stack.NewMetadata("main", "m2"),
		"b": stack.NewMetadata("a", "a"),
		"c": stack.NewMetadata("main", "m1"),
	}, "main")
	require.NoError(t, err)

	out, err := RenderTree(s, TreeOptions{CurrentBranch: "b"})
	require.NoError(t, err)

	want := strings.Join([]string{
		"○ main",
		"├── ○ a",
		"│   └── ● b",
		"└── ○ c (needs restack)",
		"",
	}, "\n")
	assert.Equal(t, want, out)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("maybe\nyes\n"), &out)
	ok, err := p.Confirm("Stash them?", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Please answer yes or no.")

	p = NewPrompter(strings.NewReader("\n"), &out)
	ok, err = p.Confirm("Push?", false)
	require.NoError(t, err)
	assert.False(t, ok)

	p = NewPrompter(strings.NewReader(""), &out)
	ok, err = p.Confirm("Stash?", true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "branch", Plural(1, "branch", "branches"))
	assert.Equal(t, "branches", Plural(2, "branch", "branches"))
}
