package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		setupFunc func(t *testing.T, dir string)
		wantErr   string
	}{
		{
			name:      "fresh initialization",
			setupFunc: func(t *testing.T, dir string) {},
		},
		{
			name: "refuses to overwrite without force",
			setupFunc: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "lodge.yml"), []byte("version: \"1.0\"\n"), 0644))
			},
			wantErr: "already initialized",
		},
		{
			name:  "force replaces lodge.yml",
			force: true,
			setupFunc: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "lodge.yml"), []byte("old content"), 0644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setupFunc(t, dir)

			res, err := Initialize(dir, tt.force)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, res.Created, "lodge.yml")

			cfg, err := config.Load(filepath.Join(dir, "lodge.yml"))
			require.NoError(t, err)
			assert.Equal(t, "1.0", cfg.Version)
			assert.Equal(t, config.ModePoll, cfg.Watch.Mode)

			layout := board.Layout{Root: dir}
			for _, p := range []string{layout.LocksDir(), filepath.Dir(layout.CursorPath("a")), filepath.Dir(layout.ThreadPath("a"))} {
				info, err := os.Stat(p)
				require.NoError(t, err)
				assert.True(t, info.IsDir())
			}

			var mb board.Mailbox
			ok, err := board.ReadJSON(layout.MailboxPath(), &mb)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(1), mb.NextSeq)
		})
	}
}

func TestInitialize_KeepsExistingState(t *testing.T) {
	dir := t.TempDir()
	layout := board.Layout{Root: dir}
	existing := board.NewMailbox()
	existing.NextSeq = 42
	require.NoError(t, board.WriteJSONAtomic(layout.MailboxPath(), existing))

	res, err := Initialize(dir, false)
	require.NoError(t, err)
	assert.NotContains(t, res.Created, filepath.Join(".lodge", "mailbox.json"))

	var mb board.Mailbox
	_, err = board.ReadJSON(layout.MailboxPath(), &mb)
	require.NoError(t, err)
	assert.Equal(t, int64(42), mb.NextSeq)
}

func TestNamespaceFor(t *testing.T) {
	assert.Equal(t, "my_project", namespaceFor("/src/My Project"))
	assert.Equal(t, "api-v2", namespaceFor("/src/api-v2"))
}

func TestEnsureGitignore(t *testing.T) {
	t.Run("no gitignore is left alone", func(t *testing.T) {
		dir := t.TempDir()
		updated, err := ensureGitignore(dir)
		require.NoError(t, err)
		assert.False(t, updated)
		_, err = os.Stat(filepath.Join(dir, ".gitignore"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("appends missing entry", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".gitignore")
		require.NoError(t, os.WriteFile(path, []byte("bin/"), 0644))

		updated, err := ensureGitignore(dir)
		require.NoError(t, err)
		assert.True(t, updated)
		data, _ := os.ReadFile(path)
		assert.Equal(t, "bin/\n.lodge/\n", string(data))

		updated, err = ensureGitignore(dir)
		require.NoError(t, err)
		assert.False(t, updated, "second run is a no-op")
	})
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".lodge"), 0755))
	assert.NoError(t, CheckExisting(dir), "state directory alone is not a config")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "lodge.yml"), []byte("version: \"1.0\"\n"), 0644))
	err := CheckExisting(dir)
	assert.ErrorContains(t, err, "lodge.yml")
	assert.ErrorContains(t, err, "--force")
}
