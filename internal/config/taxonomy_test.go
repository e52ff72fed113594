package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomyIsValid(t *testing.T) {
	tax := DefaultTaxonomy()
	require.NoError(t, tax.Validate())
	require.Len(t, tax.Categories, 4)
}

func TestLoadTaxonomyMissingFileFallsBack(t *testing.T) {
	tax, err := LoadTaxonomy(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Len(t, tax.Categories, 4)
}

func TestLoadTaxonomyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	content := `categories:
  - key: misleading
    label: Misleading claims
    guidance: Deceptive statements.
    subcategories: [false_claim]
  - key: aggressiveness
    label: Aggression
    guidance: Hostile content.
    subcategories: [threat, violence]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	require.Len(t, tax.Categories, 2)
	require.Equal(t, "misleading", tax.Categories[0].Key)
	require.Equal(t, []string{"threat", "violence"}, tax.Categories[1].Subcategories)
}

func TestLoadTaxonomyRejectsUnknownCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - key: gossip\n"), 0o600))

	_, err := LoadTaxonomy(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown category")
}

func TestLoadTaxonomyRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	content := "categories:\n  - key: misleading\n  - key: misleading\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadTaxonomy(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate category")
}
