package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/formtree/internal/config"
	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/internal/testutils"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacySalon = `{
  "id": "salon",
  "name": "Salon",
  "slug": "salon",
  "services": [
    {"id": "cut", "name": "Cut", "duration": 30, "price": 25, "questions": [{"id": "q1", "label": "Hair length?"}]}
  ]
}`

// run executes the root command with args and returns what it printed.
// Flag values are reset afterwards, since the command tree is global.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer resetFlags(rootCmd)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func fileStoreConfig(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = writeFile(t, dir, "formtree.yaml", fmt.Sprintf(`
log_level: error
store:
  driver: file
  path: %s
editor:
  autosave:
    enabled: false
`, filepath.Join(dir, "forms")))
	return cfgPath, dir
}

func TestCLI_ImportValidateTreeRemove(t *testing.T) {
	cfg, dir := fileStoreConfig(t)
	legacy := writeFile(t, dir, "salon.json", legacySalon)

	out, err := run(t, "--config", cfg, "import", legacy)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrated legacy form: 2 nodes, 1 questions")
	assert.Contains(t, out, "Imported form 'salon'")

	_, err = run(t, "--config", cfg, "import", legacy)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "--config", cfg, "import", legacy, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported form 'salon'")

	out, err = run(t, "--config", cfg, "forms", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "- salon")

	out, err = run(t, "--config", cfg, "validate", "salon")
	require.NoError(t, err)
	assert.Equal(t, "valid\n", out)

	out, err = run(t, "--config", cfg, "tree", "salon", "--ids")
	require.NoError(t, err)
	assert.Contains(t, out, "# Salon")
	assert.Contains(t, out, "- Cut (1 question) `cut`")
	assert.Contains(t, out, "_Hair length?_")

	out, err = run(t, "--config", cfg, "tree", "salon", "--format", "mermaid")
	require.NoError(t, err)
	assert.Contains(t, out, "root --> cut")

	out, err = run(t, "--config", cfg, "tree", "salon", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "Salon"`)

	_, err = run(t, "--config", cfg, "tree", "salon", "--format", "pdf")
	assert.ErrorContains(t, err, "unknown format")

	out, err = run(t, "--config", cfg, "forms", "inspect", "salon")
	require.NoError(t, err)
	assert.Contains(t, out, `"rootId": "root"`)

	out, err = run(t, "--config", cfg, "forms", "rm", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed form 'salon'")

	out, err = run(t, "--config", cfg, "forms", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored forms found.")
}

func TestCLI_ValidateReportsIssues(t *testing.T) {
	cfg, dir := fileStoreConfig(t)
	unnamed := writeFile(t, dir, "unnamed.yaml", "id: x\nslug: x\nservices: []\n")

	out, err := run(t, "--config", cfg, "validate", unnamed)
	assert.ErrorContains(t, err, "1 of 1 forms are invalid")
	assert.Contains(t, out, "form.name: Form name is required")
	assert.Contains(t, out, "Add at least one service")

	_, err = run(t, "--config", cfg, "validate", "missing-form")
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}

func TestCLI_RmRequiresArgs(t *testing.T) {
	cfg, _ := fileStoreConfig(t)
	_, err := run(t, "--config", cfg, "forms", "rm")
	assert.Error(t, err)
}

func TestCLI_TemplatesNeedDirectory(t *testing.T) {
	cfg, _ := fileStoreConfig(t)
	_, err := run(t, "--config", cfg, "templates", "ls")
	assert.ErrorIs(t, err, errNoTemplates)
}

func TestCLI_Templates(t *testing.T) {
	cfg, dir := fileStoreConfig(t)
	tmpl := filepath.Join(dir, "templates")
	testutils.WriteFiles(t, tmpl, map[string]string{
		"salon.md": "---\n" + `name: Salon
slug: salon
services:
  - id: cut
    name: Cut
    duration: 30
    questions:
      - label: Hair length?` + "\n---\nStarter salon.\n",
	})

	out, err := run(t, "--config", cfg, "--templates", tmpl, "templates", "ls")
	require.NoError(t, err)
	assert.Equal(t, "salon\n", out)

	out, err = run(t, "--config", cfg, "--templates", tmpl, "templates", "show", "salon")
	require.NoError(t, err)
	assert.Contains(t, out, "# Salon")
	assert.Contains(t, out, "- Cut (1 question)")
	assert.Contains(t, out, "_Hair length?_")
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "formtree version "))
}

func TestOpenStore(t *testing.T) {
	mr := miniredis.RunT(t)
	key := hex.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name       string
		mutate     func(*config.Config, string)
		wantLocker bool
	}{
		{"memory", func(c *config.Config, _ string) { c.Store.Driver = config.DriverMemory }, false},
		{"file", func(c *config.Config, dir string) {
			c.Store.Driver = config.DriverFile
			c.Store.Path = filepath.Join(dir, "forms")
		}, false},
		{"sqlite", func(c *config.Config, dir string) {
			c.Store.Driver = config.DriverSQLite
			c.Store.Path = filepath.Join(dir, "nested", "forms.db")
		}, false},
		{"redis with lock", func(c *config.Config, _ string) {
			c.Store.Driver = config.DriverRedis
			c.Store.Redis.Addr = mr.Addr()
			c.Store.Redis.Lock = true
		}, true},
		{"encrypted and redacted", func(c *config.Config, dir string) {
			c.Store.Driver = config.DriverFile
			c.Store.Path = filepath.Join(dir, "secure")
			c.Encryption.Key = key
			c.Redact.Enabled = true
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg, t.TempDir())
			require.NoError(t, cfg.Validate())

			a := &app{cfg: cfg, logger: logging.NewNop()}
			require.NoError(t, a.openStore())
			t.Cleanup(func() { _ = a.Close() })
			assert.Equal(t, tt.wantLocker, a.locker != nil)

			ctx := context.Background()
			state := domain.NewFormState("f1", "Salon", "salon")
			require.NoError(t, a.manager().Save(ctx, state))
			loaded, err := a.store.Load(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, "Salon", loaded.Name)
		})
	}
}
