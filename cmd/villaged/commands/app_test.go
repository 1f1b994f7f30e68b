package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"villagecraft.ai/internal/config"
	"villagecraft.ai/internal/persistence/backup"
	"villagecraft.ai/internal/persistence/history"
	"villagecraft.ai/internal/persistence/savefile"
	"villagecraft.ai/internal/village/geom"
)

const testCatalogYAML = `entries:
  - id: house
    display_name: House
    cost: 100
    refund_ratio: "0.5"
  - id: well
    display_name: Well
    cost: 40
    refund_ratio: "0.75"
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	catPath := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catPath, []byte(testCatalogYAML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c := config.Defaults()
	c.StartingBalance = 150
	c.CatalogPath = catPath
	c.SavePath = filepath.Join(dir, "save.json")
	c.Backup.Dir = filepath.Join(dir, "backups")
	c.HistoryDB = filepath.Join(dir, "history.sqlite")
	c.JournalDir = filepath.Join(dir, "journal")
	return c
}

func TestAppLifecycle(t *testing.T) {
	cfg = testConfig(t)
	log = zerolog.Nop()
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	// The loop is not running yet, so this goroutine owns the village.
	if _, err := a.village.RequestPurchase("house", geom.Vec3{X: 1.2, Y: 0.9}); err != nil {
		t.Fatalf("request: %v", err)
	}
	obj, err := a.village.ConfirmPlacement()
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := a.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := a.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec, exists, err := savefile.Read(cfg.SavePath)
	if err != nil || !exists {
		t.Fatalf("read save: exists=%v err=%v", exists, err)
	}
	if rec.Balance != 50 || len(rec.Objects) != 1 || rec.Objects[0].InstanceID != obj.InstanceID {
		t.Fatalf("rec=%+v", rec)
	}
	if rec.Objects[0].X != 1.0 || rec.Objects[0].Y != 1.0 {
		t.Fatalf("not snapped: %+v", rec.Objects[0])
	}

	db, err := history.OpenSQLite(cfg.HistoryDB)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	tot, err := db.Totals(ctx)
	_ = db.Close()
	if err != nil || tot.Purchases != 1 || tot.Spent != 100 {
		t.Fatalf("totals=%+v err=%v", tot, err)
	}

	var out bytes.Buffer
	if err := inspect(ctx, &out, 5); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"balance", "50", "house", "purchases", "backups", "balance changes", "SPEND", "-100"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out.String())
		}
	}

	infos, err := backup.New(cfg.Backup.Dir, cfg.Backup.Keep).List()
	if err != nil || len(infos) == 0 {
		t.Fatalf("backups=%v err=%v", infos, err)
	}
	out.Reset()
	if err := dumpBackup(&out, infos[0].Name); err != nil {
		t.Fatalf("dump backup: %v", err)
	}
	if !strings.Contains(out.String(), `"balance"`) {
		t.Fatalf("backup dump=%q", out.String())
	}
	if err := dumpBackup(&out, "../save.json"); err == nil {
		t.Fatalf("expected error for a path outside the backup dir")
	}

	// A second boot picks the village back up.
	b, err := buildApp(ctx, cfg, log)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer b.close()
	if err := b.restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b.village.Ledger().Balance() != 50 || len(b.village.Objects()) != 1 {
		t.Fatalf("balance=%d objects=%d", b.village.Ledger().Balance(), len(b.village.Objects()))
	}
	_ = b.shutdown()
}

func TestReset(t *testing.T) {
	cfg = testConfig(t)
	log = zerolog.Nop()
	if err := savefile.WriteAtomic(cfg.SavePath, []byte(`{"objects":[],"balance":7}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	rec, _, err := savefile.Read(cfg.SavePath)
	if err != nil || rec.Balance != 150 || len(rec.Objects) != 0 {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
	entries, err := os.ReadDir(cfg.Backup.Dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("backups=%v err=%v", entries, err)
	}
}
