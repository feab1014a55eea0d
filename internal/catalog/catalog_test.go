package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

const validOrders = `
name = "Acme orders"
protocol = "ftp"
path_pattern = "/outbound"
filename_pattern = "orders_*"
extension = "csv"
cron = "*/5 * * * *"
timezone = "Europe/London"
last_modified_by = "ops@acme.test"

[settings]
host = "ftp.acme.test"
user = "acme"
password_secret = "ftp_password"

[[events]]
type = "FileAvailable"
metadata = { team = "ingest" }

[[commands]]
type = "IngestFile"
target = "ingestion"
`

func writeConfig(t *testing.T, dir, client, file, body string) string {
	t.Helper()
	p := filepath.Join(dir, client, file)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "acme", "orders.toml", validOrders)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ClientID != "acme" || cfg.ID != "orders" {
		t.Errorf("key = %q, want acme/orders", cfg.Key())
	}
	if cfg.Protocol != domain.ProtocolFTP {
		t.Errorf("Protocol = %q, want ftp", cfg.Protocol)
	}
	if !cfg.Active {
		t.Error("Active = false, want true when unset")
	}
	if cfg.Location() != "Europe/London" {
		t.Errorf("Location() = %q", cfg.Location())
	}
	if len(cfg.Events) != 1 || cfg.Events[0].Metadata["team"] != "ingest" {
		t.Errorf("Events = %+v", cfg.Events)
	}
	if len(cfg.Commands) != 1 || cfg.Commands[0].Target != "ingestion" {
		t.Errorf("Commands = %+v", cfg.Commands)
	}
	if cfg.ETag == "" {
		t.Error("ETag is empty")
	}
	if cfg.Settings["host"] != "ftp.acme.test" {
		t.Errorf("Settings[host] = %v", cfg.Settings["host"])
	}
}

func TestLoad_ETagChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "acme", "orders.toml", validOrders)
	first, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "acme", "orders.toml", "active = false\n"+validOrders)
	second, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if first.ETag == second.ETag {
		t.Error("ETag unchanged after edit")
	}
	if second.Active {
		t.Error("Active = true, want false")
	}
}

func TestDiscover_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "acme", "orders.toml", validOrders)
	writeConfig(t, dir, "acme", "orders-copy.toml", "id = \"orders\"\n"+validOrders)

	_, err := Discover(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate configuration") {
		t.Fatalf("Discover() error = %v, want duplicate", err)
	}
}

func TestCatalog_GetByID(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "acme", "orders.toml", validOrders)
	writeConfig(t, dir, "acme", "legacy-name.toml", "id = \"invoices\"\n"+validOrders)
	writeConfig(t, dir, "globex", "orders.toml", "active = false\n"+validOrders)
	c := New(dir)
	ctx := context.Background()

	cfg, err := c.GetByID(ctx, "acme", "invoices")
	if err != nil {
		t.Fatalf("GetByID(invoices) error: %v", err)
	}
	if cfg.ID != "invoices" {
		t.Errorf("ID = %q", cfg.ID)
	}

	for _, tt := range []struct{ client, id string }{
		{"acme", "missing"},
		{"../acme", "orders"},
		{"acme", ".."},
	} {
		if _, err := c.GetByID(ctx, tt.client, tt.id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID(%q, %q) error = %v, want ErrNotFound", tt.client, tt.id, err)
		}
	}

	active, err := c.GetActiveConfigurations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("GetActiveConfigurations() = %d, want 2", len(active))
	}
	if active[0].Key() != "acme/invoices" || active[1].Key() != "acme/orders" {
		t.Errorf("order = %s, %s", active[0].Key(), active[1].Key())
	}
}

func TestValidate_Valid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "acme", "orders.toml", validOrders)

	errs, err := ValidateAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Errorf("ValidateAll() returned %d errors, want 0:", len(errs))
		for _, e := range errs {
			t.Errorf("  %s", e)
		}
	}
}

func TestValidate_Problems(t *testing.T) {
	base := func() domain.Configuration {
		return domain.Configuration{
			ClientID:    "acme",
			ID:          "orders",
			Protocol:    domain.ProtocolFTP,
			Settings:    map[string]any{"host": "h", "user": "u", "password_secret": "p"},
			PathPattern: "/in",
			Cron:        "0 * * * *",
			Events:      []domain.EventDefinition{{Type: "FileAvailable"}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*domain.Configuration)
		want   string
	}{
		{"bad cron", func(c *domain.Configuration) { c.Cron = "every minute" }, "cron"},
		{"missing cron", func(c *domain.Configuration) { c.Cron = "" }, "cron: is required"},
		{"bad timezone", func(c *domain.Configuration) { c.Timezone = "Mars/Olympus" }, "cron"},
		{"unknown protocol", func(c *domain.Configuration) { c.Protocol = "gopher" }, "unsupported protocol"},
		{"missing settings", func(c *domain.Configuration) { c.Settings = nil }, "host"},
		{"unknown setting", func(c *domain.Configuration) { c.Settings["colour"] = "blue" }, "colour"},
		{"bad path glob", func(c *domain.Configuration) { c.PathPattern = "/in/[" }, "path_pattern"},
		{"missing path", func(c *domain.Configuration) { c.PathPattern = "" }, "path_pattern: is required"},
		{"bad filename glob", func(c *domain.Configuration) { c.FilenamePattern = "{a" }, "filename_pattern"},
		{"no definitions", func(c *domain.Configuration) { c.Events = nil }, "at least one"},
		{"command without target", func(c *domain.Configuration) {
			c.Commands = []domain.CommandDefinition{{Type: "IngestFile"}}
		}, "commands[0].target"},
		{"event without type", func(c *domain.Configuration) {
			c.Events = []domain.EventDefinition{{}}
		}, "events[0].type"},
		{"bad client id", func(c *domain.Configuration) { c.ClientID = "a c" }, "invalid client id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			errs := Validate(cfg)
			if len(errs) == 0 {
				t.Fatalf("Validate() returned no errors, want %q", tt.want)
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e.Error(), tt.want) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Validate() errors do not mention %q: %v", tt.want, errs)
			}
		})
	}
}

func TestValidateAll_Empty(t *testing.T) {
	if _, err := ValidateAll(t.TempDir()); err == nil {
		t.Error("ValidateAll() on empty dir returned nil error")
	}
}

func TestMemory_GetByID(t *testing.T) {
	m := NewMemory(domain.Configuration{ClientID: "acme", ID: "orders", Active: true})
	if _, err := m.GetByID(context.Background(), "acme", "orders"); err != nil {
		t.Fatal(err)
	}
	m.Delete("acme", "orders")
	if _, err := m.GetByID(context.Background(), "acme", "orders"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
