package importexport

import (
	"context"
	"testing"
	"time"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/testutil"
)

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := testutil.NewFakeStore()
	if err := src.CreateProvider(ctx, &bridge.Provider{ID: "p1", Name: "openai", AdapterType: "openai", BaseURL: "https://api.openai.com", Enabled: true}); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	if err := src.CreateProxy(ctx, &bridge.BridgeProxy{ID: "x1", Name: "main", InboundAdapter: "openai", OutboundKind: bridge.OutboundProvider, OutboundID: "p1", ProxyPath: "/main"}); err != nil {
		t.Fatalf("seed proxy: %v", err)
	}
	if err := src.CreateModelMapping(ctx, &bridge.ModelMapping{ID: "m1", ProxyID: "x1", SourceModel: "gpt-4", TargetModel: "gpt-4o"}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
	if err := src.PutSetting(ctx, &bridge.Setting{Key: "proxy.port", Value: []byte("9527"), UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("seed setting: %v", err)
	}

	doc, err := Export(ctx, src)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(doc.Providers) != 1 || len(doc.Proxies) != 1 || len(doc.ModelMappings["x1"]) != 1 || len(doc.Settings) != 1 {
		t.Fatalf("unexpected document shape: %+v", doc)
	}

	raw, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	roundTripped, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	dst := testutil.NewFakeStore()
	res, err := Import(ctx, dst, roundTripped, StrategyOverwrite)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.ProvidersCreated != 1 || res.ProxiesCreated != 1 || res.MappingsCreated != 1 || res.SettingsCreated != 1 {
		t.Errorf("unexpected import tally: %+v", res)
	}

	got, err := dst.GetProvider(ctx, "p1")
	if err != nil || got.Name != "openai" {
		t.Errorf("provider not imported correctly: %+v, err=%v", got, err)
	}
}

func TestImportSkipLeavesExistingUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.NewFakeStore()
	if err := store.CreateProvider(ctx, &bridge.Provider{ID: "p1", Name: "original", AdapterType: "openai"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc := &Document{
		Version:   schemaVersion,
		Providers: []*bridge.Provider{{ID: "p1", Name: "incoming", AdapterType: "openai"}},
	}
	if _, err := Import(ctx, store, doc, StrategySkip); err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, err := store.GetProvider(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if got.Name != "original" {
		t.Errorf("skip strategy overwrote existing row: got name %q", got.Name)
	}
}

func TestImportOverwriteReplacesExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.NewFakeStore()
	if err := store.CreateProvider(ctx, &bridge.Provider{ID: "p1", Name: "original", AdapterType: "openai"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc := &Document{
		Version:   schemaVersion,
		Providers: []*bridge.Provider{{ID: "p1", Name: "incoming", AdapterType: "openai"}},
	}
	if _, err := Import(ctx, store, doc, StrategyOverwrite); err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, err := store.GetProvider(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if got.Name != "incoming" {
		t.Errorf("overwrite strategy kept stale row: got name %q", got.Name)
	}
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	if _, err := Unmarshal([]byte(`{"version": 99}`)); err == nil {
		t.Error("expected an error for an unsupported document version")
	}
}
