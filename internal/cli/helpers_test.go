package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/harness"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/testutil"
)

// workspace is a temp directory holding a config file and its database.
type workspace struct {
	dir        string
	configPath string
	dbPath     string
}

func newWorkspace(t *testing.T, edit func(*config.Config)) *workspace {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "stockline.db")
	cfg.Inbox.Dir = filepath.Join(dir, "inbox")
	cfg.Inbox.Outbox = filepath.Join(dir, "outbox")
	if edit != nil {
		edit(&cfg)
	}
	data, err := config.Encode(cfg)
	require.NoError(t, err)
	configPath := filepath.Join(dir, "stockline.toml")
	require.NoError(t, os.WriteFile(configPath, data, 0o644))
	return &workspace{dir: dir, configPath: configPath, dbPath: cfg.Database.Path}
}

// withStore opens the workspace database, runs fn and closes it again.
func (w *workspace) withStore(t *testing.T, fn func(ctx context.Context, st *store.Store)) {
	t.Helper()
	st, err := store.Open(w.dbPath)
	require.NoError(t, err)
	defer st.Close()
	fn(context.Background(), st)
}

func (w *workspace) seed(t *testing.T) {
	t.Helper()
	w.withStore(t, func(ctx context.Context, st *store.Store) {
		require.NoError(t, harness.Seed(ctx, st, testutil.Catalog()))
	})
}

// flagOrder inserts an order with a pending approval.
func (w *workspace) flagOrder(t *testing.T, id string) {
	t.Helper()
	w.withStore(t, func(ctx context.Context, st *store.Store) {
		require.NoError(t, st.InTx(ctx, func(tx *store.Tx) error {
			c, err := tx.ResolveCustomer(ctx, domain.Customer{ID: "c-" + id, Name: "Asha", Phone: "98765" + id, CreatedAt: testutil.Epoch})
			if err != nil {
				return err
			}
			if err := tx.InsertOrder(ctx, domain.Order{
				ID: id, CustomerID: c.ID, ActorName: "Ravi", CommitKey: "k-" + id, CreatedAt: testutil.Epoch,
			}); err != nil {
				return err
			}
			return tx.RequestApproval(ctx, domain.Approval{OrderID: id, Reason: "short", CreatedAt: testutil.Epoch.Add(time.Minute)})
		}))
	})
}

// run executes the root command against the workspace config.
func (w *workspace) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return execute(t, stdin, append([]string{"--config", w.configPath}, args...)...)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
