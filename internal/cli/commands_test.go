package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/config"
	"github.com/roach88/stockline/internal/domain"
	"github.com/roach88/stockline/internal/store"
)

func decodeData(t *testing.T, out string, dst any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func TestChat_AddStockThroughButtons(t *testing.T) {
	ws := newWorkspace(t, nil)
	ws.seed(t)

	out, err := ws.run(t, "check stock centrifugal pump\n#1\n10\nRavi\n#1\n/quit\nnot reached\n", "chat", "--as", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Centrifugal Pump (CP-3001) - 2 in stock")
	assert.Contains(t, out, "[#1 Add stock] [#2 Order]")
	assert.Contains(t, out, "[#1 Confirm] [#2 Cancel]")
	assert.Contains(t, out, "Added 10 units of Centrifugal Pump. Stock went from 2 to 12.")
	assert.NotContains(t, out, "not reached")

	ws.withStore(t, func(ctx context.Context, st *store.Store) {
		p, err := st.Product(ctx, "p6")
		require.NoError(t, err)
		assert.Equal(t, 12, p.Stock)
	})

	out, err = ws.run(t, "", "--format", "json", "audit", "--product", "CP-3001")
	require.NoError(t, err)
	var records []domain.AuditRecord
	decodeData(t, out, &records)
	require.Len(t, records, 1)
	assert.Equal(t, 10, records[0].QuantityDelta)
	assert.Equal(t, "Ravi", records[0].ActorName)
	assert.Equal(t, domain.AuditStockAdd, records[0].Action)
}

func TestChat_UnknownButton(t *testing.T) {
	ws := newWorkspace(t, nil)
	ws.seed(t)

	out, err := ws.run(t, "#2\nhelp\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "! no button 2")
	assert.Contains(t, out, "I can help with:")
}

func TestChat_JSONReplies(t *testing.T) {
	ws := newWorkspace(t, nil)
	ws.seed(t)

	out, err := ws.run(t, "help\n", "--format", "json", "chat")
	require.NoError(t, err)
	var replies []struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &replies))
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[0].Text, "I can help with:")
}

func TestChat_EmptyIdentity(t *testing.T) {
	ws := newWorkspace(t, nil)
	_, err := ws.run(t, "", "chat", "--as", " ")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestButtonIndex(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		isOK bool
	}{
		{"#1", 1, true},
		{"#12", 12, true},
		{"#0", 0, false},
		{"#", 0, false},
		{"#x", 0, false},
		{"1", 0, false},
		{"# 1", 0, false},
	}
	for _, tt := range tests {
		n, ok := buttonIndex(tt.in)
		assert.Equal(t, tt.isOK, ok, tt.in)
		assert.Equal(t, tt.n, n, tt.in)
	}
}

func TestImport(t *testing.T) {
	ws := newWorkspace(t, nil)
	file := filepath.Join(ws.dir, "catalog.csv")
	require.NoError(t, os.WriteFile(file, []byte(`SKU,Name,Vendor,Units,Price,Stock,Reorder Level
BV-050,Ball Valve 50mm,Hydra,nos,250,30,5
,Nameless,Hydra,nos,1,1,0
`), 0o644))

	out, err := ws.run(t, "", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+file+": 1 inserted, 0 updated, 1 skipped")
	assert.Contains(t, out, "skipped line 3")

	out, err = ws.run(t, "", "--format", "json", "import", file)
	require.NoError(t, err)
	var results []ImportResult
	decodeData(t, out, &results)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Inserted)
	assert.Equal(t, 1, results[0].Updated)

	ws.withStore(t, func(ctx context.Context, st *store.Store) {
		p, err := st.ProductBySKU(ctx, "BV-050")
		require.NoError(t, err)
		assert.Equal(t, "Ball Valve 50mm", p.Name)
		assert.Equal(t, domain.Money(25000), p.UnitPrice)
	})
}

func TestImport_VerboseProgressOnStderr(t *testing.T) {
	ws := newWorkspace(t, nil)
	file := filepath.Join(ws.dir, "catalog.csv")
	require.NoError(t, os.WriteFile(file, []byte("SKU,Name,Vendor,Units,Price,Stock,Reorder Level\nBV-050,Ball Valve 50mm,Hydra,nos,250,30,5\n"), 0o644))

	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--config", ws.configPath, "--format", "json", "--verbose", "import", file})
	require.Equal(t, ExitSuccess, Execute(cmd))

	assert.Contains(t, errOut.String(), "Importing "+file)
	var results []ImportResult
	decodeData(t, out.String(), &results)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Inserted)
}

func TestImport_UnreadableFile(t *testing.T) {
	ws := newWorkspace(t, nil)
	_, err := ws.run(t, "", "import", filepath.Join(ws.dir, "catalog.xlsx"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSweep(t *testing.T) {
	ws := newWorkspace(t, func(cfg *config.Config) {
		cfg.Session.IdleWindow = time.Millisecond
	})
	ws.seed(t)

	_, err := ws.run(t, "help\n", "chat", "--as", "u1")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	out, err := ws.run(t, "", "--format", "json", "sweep")
	require.NoError(t, err)
	var res SweepResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Removed)

	out, err = ws.run(t, "", "sweep")
	require.NoError(t, err)
	assert.Equal(t, "✓ removed 0 idle session(s)\n", out)
}

func TestSweep_DisabledWindow(t *testing.T) {
	ws := newWorkspace(t, func(cfg *config.Config) {
		cfg.Session.IdleWindow = 0
	})
	_, err := ws.run(t, "help\n", "chat")
	require.NoError(t, err)

	out, err := ws.run(t, "", "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0")
}

func TestSweep_InvalidLimit(t *testing.T) {
	ws := newWorkspace(t, nil)
	_, err := ws.run(t, "", "sweep", "--limit", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAudit_Empty(t *testing.T) {
	ws := newWorkspace(t, nil)
	ws.seed(t)

	out, err := ws.run(t, "", "audit")
	require.NoError(t, err)
	assert.Equal(t, "No audit records.\n", out)

	out, err = ws.run(t, "", "--format", "json", "audit", "--product", "p1")
	require.NoError(t, err)
	var records []domain.AuditRecord
	decodeData(t, out, &records)
	assert.Empty(t, records)
}

func TestAudit_UnknownProduct(t *testing.T) {
	ws := newWorkspace(t, nil)
	_, err := ws.run(t, "", "audit", "--product", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown product "nope"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApprovals(t *testing.T) {
	ws := newWorkspace(t, nil)
	ws.seed(t)
	ws.flagOrder(t, "o1")
	ws.flagOrder(t, "o2")

	out, err := ws.run(t, "", "--format", "json", "approvals", "list")
	require.NoError(t, err)
	var pending []domain.Approval
	decodeData(t, out, &pending)
	require.Len(t, pending, 2)
	assert.Equal(t, "o1", pending[0].OrderID)

	out, err = ws.run(t, "", "approvals", "approve", "o1")
	require.NoError(t, err)
	assert.Equal(t, "✓ order o1 approved\n", out)

	_, err = ws.run(t, "", "approvals", "deny", "o1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = ws.run(t, "", "approvals", "deny", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = ws.run(t, "", "approvals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "pending  o2  short")
	assert.NotContains(t, out, "o1")

	out, err = ws.run(t, "", "--format", "json", "approvals", "list", "--status", "all")
	require.NoError(t, err)
	var all []domain.Approval
	decodeData(t, out, &all)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ApprovalApproved, all[0].Status)

	_, err = ws.run(t, "", "approvals", "list", "--status", "maybe")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "stockline.toml")

	out, err := execute(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Equal(t, "✓ wrote "+path+"\n", out)

	_, err = execute(t, "", "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = execute(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "display_cap = 3")
	assert.Contains(t, out, "tax_rate_bps = 1800")
}

func TestConfig_InvalidFile(t *testing.T) {
	ws := newWorkspace(t, func(cfg *config.Config) {
		cfg.Flow.DisplayCap = 9
	})
	_, err := ws.run(t, "", "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
