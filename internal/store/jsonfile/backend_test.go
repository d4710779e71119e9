package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
	"tradepost/internal/store/memory"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalogJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := writeFile(t, dir, "items.json", `[{"name":"sword","buy":100,"sell":40}]`)
	yamlPath := writeFile(t, dir, "items.yaml", "- name: sword\n  buy: 100\n  sell: 40\n")

	want := []domain.Item{{Name: "sword", BuyPrice: 100, SellPrice: 40}}
	got, err := LoadCatalog(jsonPath)
	require.NoError(t, err)
	require.Equal(t, want, got)

	got, err = LoadCatalog(yamlPath)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadCatalogRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCatalog(writeFile(t, dir, "bad.json", `[{"name":"sword","buy":`))
	require.Error(t, err)

	_, err = LoadCatalog(writeFile(t, dir, "extra.json", `[{"name":"sword","buy":1,"sell":1,"color":"red"}]`))
	require.Error(t, err)

	_, err = LoadCatalog(writeFile(t, dir, "bad.yml", "- name: [\n"))
	require.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	_, err = LoadCatalog("")
	require.Error(t, err)
}

func TestMissingUsersFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	items := writeFile(t, dir, "items.json", `[]`)
	b := New(items, filepath.Join(dir, "nested", "users.json"))

	_, users, err := b.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	items := writeFile(t, dir, "items.json", `[{"name":"sword","buy":100,"sell":40}]`)
	usersPath := filepath.Join(dir, "data", "users.json")
	ctx := context.Background()

	s, err := memory.Open(ctx, New(items, usersPath))
	require.NoError(t, err)
	u := s.GetOrCreateUser("alice")
	u.Credits = 150
	require.NoError(t, u.Purchase(domain.Item{Name: "sword", BuyPrice: 100, SellPrice: 40}, 1))
	require.NoError(t, s.Commit(ctx))

	reopened, err := memory.Open(ctx, New(items, usersPath))
	require.NoError(t, err)
	alice := reopened.GetOrCreateUser("alice")
	require.Equal(t, int64(50), alice.Credits)
	require.Equal(t, map[string]int64{"sword": 1}, alice.Items)
}

func TestSaveSkipsUnchangedSnapshot(t *testing.T) {
	dir := t.TempDir()
	items := writeFile(t, dir, "items.json", `[]`)
	usersPath := writeFile(t, dir, "users.json", `[{"name":"bob","credits":3,"items":{}}]`)
	b := New(items, usersPath)
	ctx := context.Background()

	_, users, err := b.Load(ctx)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(usersPath, past, past))
	require.NoError(t, b.Save(ctx, users))
	info, err := os.Stat(usersPath)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(past), "unchanged snapshot must not rewrite the file")

	users[0].Credits = 4
	require.NoError(t, b.Save(ctx, users))
	raw, err := os.ReadFile(usersPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"credits": 4`)
}

func TestCorruptUsersFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	items := writeFile(t, dir, "items.json", `[]`)
	users := writeFile(t, dir, "users.json", `{"name":"not a list"}`)
	_, _, err := New(items, users).Load(context.Background())
	require.Error(t, err)
}
