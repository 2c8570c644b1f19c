package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"themesync/client"
	"themesync/internal/api"
	"themesync/internal/errors"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func setupShop(t *testing.T) (*api.Store, string) {
	t.Helper()
	store := api.NewStore()
	store.AddTheme(api.Theme{ID: 7, Name: "Dawn", Role: "main"})
	store.AddTheme(api.Theme{ID: 9, Name: "Draft", Role: "unpublished"})

	mux := http.NewServeMux()
	api.NewAssetHandler(store, api.NewCallLimiter(40, 2), "key", "pass", nil).Routes(mux, "/admin")
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return store, srv.URL + "/admin"
}

func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "themesync.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeTheme(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for rel, data := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(nil))
	err := cmd.Execute()
	return out.String(), err
}

func TestDeploy_UploadsThemeAndRecordsOutcomes(t *testing.T) {
	store, apiURL := setupShop(t)

	dir := t.TempDir()
	writeTheme(t, dir, map[string][]byte{
		"templates/index.liquid": []byte("{{ content_for_index }}"),
		"assets/logo.png":        {0x89, 'P', 'N', 'G', 0x00},
		".DS_Store":              []byte("junk"),
		"stray.txt":              []byte("not in a theme folder"),
	})
	journalDir := filepath.Join(t.TempDir(), "journal")

	cfgPath := writeConfig(t, map[string]any{
		"key":       "key",
		"pass":      "pass",
		"host":      "demo.myshopify.com",
		"api_url":   apiURL,
		"theme_id":  "7",
		"base_path": dir,
		"log_level": "error",
		"journal":   map[string]string{"path": journalDir},
	})

	out, err := execute(t, "deploy", "--config", cfgPath)
	require.NoError(t, err, out)

	assert.Equal(t, []string{"assets/logo.png", "templates/index.liquid"}, store.Keys(7))
	assert.Contains(t, out, "Connected to: demo.myshopify.com theme id: 7 theme name: Dawn")
	assert.Contains(t, out, "Upload Finish: templates/index.liquid")
	assert.Contains(t, out, "Upload Error:  stray.txt")
	assert.Contains(t, out, "Uploaded: 2 Deleted: 0 Skipped: 1 Errors: 1")

	out, err = execute(t, "history", "--config", cfgPath, "--limit", "0")
	require.NoError(t, err, out)
	assert.Contains(t, out, "templates/index.liquid")
	assert.Contains(t, out, "stray.txt")
	assert.Contains(t, out, "key is invalid")
}

func TestDeploy_DeletesMissingPaths(t *testing.T) {
	store, apiURL := setupShop(t)
	require.NoError(t, store.Put(7, api.Asset{Key: "snippets/old.liquid", Value: "old"}))

	dir := t.TempDir()
	writeTheme(t, dir, map[string][]byte{"snippets/new.liquid": []byte("new")})

	cfgPath := writeConfig(t, map[string]any{
		"key": "key", "pass": "pass", "host": "demo.myshopify.com",
		"api_url": apiURL, "theme_id": "7", "base_path": dir, "log_level": "error",
	})

	// A path that no longer exists locally is mirrored as a deletion.
	out, err := execute(t, "deploy", "--config", cfgPath,
		filepath.Join(dir, "snippets", "new.liquid"),
		filepath.Join(dir, "snippets", "old.liquid"))
	require.NoError(t, err, out)
	assert.Equal(t, []string{"snippets/new.liquid"}, store.Keys(7))
	assert.Contains(t, out, "Delete Finish: snippets/old.liquid")
	assert.Contains(t, out, "Uploaded: 1 Deleted: 1 Skipped: 0 Errors: 0")
}

func TestDeploy_ConfigurationErrorFails(t *testing.T) {
	cfgPath := writeConfig(t, map[string]any{"host": "demo.myshopify.com"})
	t.Setenv("THEMESYNC_KEY", "")
	t.Setenv("THEMESYNC_PASS", "")

	_, err := execute(t, "deploy", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfiguration, errors.TypeOf(err))
}

func TestDeploy_InvalidPolicyFails(t *testing.T) {
	_, apiURL := setupShop(t)
	cfgPath := writeConfig(t, map[string]any{
		"key": "key", "pass": "pass", "host": "demo.myshopify.com", "api_url": apiURL,
	})

	_, err := execute(t, "deploy", "--config", cfgPath, "--policy", "fastest")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfiguration, errors.TypeOf(err))
}

func TestDeploy_PromptsForUnknownTheme(t *testing.T) {
	store, apiURL := setupShop(t)
	dir := t.TempDir()
	writeTheme(t, dir, map[string][]byte{"layout/theme.liquid": []byte("<html>")})

	cfgPath := writeConfig(t, map[string]any{
		"key": "key", "pass": "pass", "host": "demo.myshopify.com",
		"api_url": apiURL, "base_path": dir, "log_level": "error",
	})

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"deploy", "--config", cfgPath})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewBufferString("2\n"))
	require.NoError(t, cmd.Execute(), out.String())

	assert.Contains(t, out.String(), "9 - Draft (unpublished)")
	assert.Equal(t, []string{"layout/theme.liquid"}, store.Keys(9))
	assert.Empty(t, store.Keys(7))
}

func TestNewSession_BreakerWrapsClient(t *testing.T) {
	_, apiURL := setupShop(t)
	cfgPath := writeConfig(t, map[string]any{
		"key": "key", "pass": "pass", "host": "demo.myshopify.com",
		"api_url": apiURL, "theme_id": "7", "base_path": t.TempDir(), "log_level": "error",
	})

	for _, enabled := range []bool{false, true} {
		opts := &options{configPath: cfgPath}
		cmd := &cobra.Command{}
		cmd.Flags().BoolVar(&opts.breaker, "breaker", false, "")
		require.NoError(t, cmd.Flags().Set("breaker", strconv.FormatBool(enabled)))
		cmd.SetOut(&bytes.Buffer{})

		s, err := newSession(context.Background(), cmd, opts)
		require.NoError(t, err)

		_, wrapped := s.api.(*client.BreakerClient)
		assert.Equal(t, enabled, wrapped)
		_, plain := s.api.(*client.Client)
		assert.Equal(t, !enabled, plain)
		s.Close()
	}
}

func TestThemes_ListsAndMarksConfigured(t *testing.T) {
	_, apiURL := setupShop(t)
	cfgPath := writeConfig(t, map[string]any{
		"key": "key", "pass": "pass", "host": "demo.myshopify.com", "api_url": apiURL,
	})

	out, err := execute(t, "themes", "--config", cfgPath, "--theme-id", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "  7 - Dawn (main)")
	assert.Contains(t, out, "* 9 - Draft (unpublished)")
}

func TestHistory_Prune(t *testing.T) {
	_, apiURL := setupShop(t)
	dir := t.TempDir()
	writeTheme(t, dir, map[string][]byte{
		"snippets/a.liquid": []byte("a"),
		"snippets/b.liquid": []byte("b"),
		"snippets/c.liquid": []byte("c"),
	})
	cfgPath := writeConfig(t, map[string]any{
		"key": "key", "pass": "pass", "host": "demo.myshopify.com",
		"api_url": apiURL, "theme_id": "7", "base_path": dir, "log_level": "error",
		"journal": map[string]string{"path": filepath.Join(t.TempDir(), "journal")},
	})

	out, err := execute(t, "deploy", "--config", cfgPath)
	require.NoError(t, err, out)

	out, err = execute(t, "history", "--config", cfgPath, "--prune", "1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Pruned 2 records, kept the newest 1")

	out, err = execute(t, "history", "--config", cfgPath, "--prune", "-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))
}

func TestHistory_RequiresJournal(t *testing.T) {
	cfgPath := writeConfig(t, map[string]any{})

	_, err := execute(t, "history", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfiguration, errors.TypeOf(err))
}
