package companies

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ksred/marketracker-api/internal/database"
	"github.com/ksred/marketracker-api/internal/types"
)

func seed(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.Import(context.Background(), []types.Company{
		{Symbol: "APP", Name: "AppLovin Corporation"},
		{Symbol: "AAPL", Name: "Apple Inc."},
		{Symbol: "MSFT", Name: "Microsoft Corporation"},
		{Symbol: "PAPL", Name: "Pineapple Holdings"},
		{Symbol: "XYZ", Name: "Block, Inc. (formerly Square, apple pay rival)"},
		{Symbol: "ZZAP", Name: "Applied Widgets"},
		{Symbol: "PCT", Name: "100% Pure Corp"},
		{Symbol: "SNAPP", Name: "Snapp Co"},
	})
	if err != nil {
		t.Fatalf("Import() unexpected error = %v", err)
	}
}

func symbols(cs []types.Company) string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Symbol
	}
	return strings.Join(out, ",")
}

func TestSearchRanking(t *testing.T) {
	svc := NewService(database.SetupTestDB(t))
	seed(t, svc)

	results, err := svc.Search(context.Background(), "app")
	if err != nil {
		t.Fatalf("Search() unexpected error = %v", err)
	}

	// symbol prefix, name prefix, symbol substring, name substring; then by name
	want := "APP,AAPL,ZZAP,SNAPP,XYZ,PAPL"
	if got := symbols(results); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestSearchEdgeCases(t *testing.T) {
	svc := NewService(database.SetupTestDB(t))
	seed(t, svc)
	ctx := context.Background()

	empty, err := svc.Search(ctx, "   ")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice for blank query, got %v, %v", empty, err)
	}

	upper, _ := svc.Search(ctx, "MSFT")
	lower, _ := svc.Search(ctx, "msft")
	if symbols(upper) != "MSFT" || symbols(lower) != "MSFT" {
		t.Errorf("expected case-insensitive match, got %q and %q", symbols(upper), symbols(lower))
	}

	pct, _ := svc.Search(ctx, "%")
	if symbols(pct) != "PCT" {
		t.Errorf("expected %% to match literally, got %q", symbols(pct))
	}
	under, _ := svc.Search(ctx, "_")
	if len(under) != 0 {
		t.Errorf("expected _ to match literally, got %q", symbols(under))
	}
}

func TestSearchLimit(t *testing.T) {
	svc := NewService(database.SetupTestDB(t))

	var many []types.Company
	for _, s := range "ABCDEFGHIJKLMNOP" {
		many = append(many, types.Company{Symbol: "Q" + string(s), Name: "Quantum " + string(s)})
	}
	if _, err := svc.Import(context.Background(), many); err != nil {
		t.Fatalf("Import() unexpected error = %v", err)
	}

	results, _ := svc.Search(context.Background(), "q")
	if len(results) != SearchLimit {
		t.Errorf("expected %d results, got %d", SearchLimit, len(results))
	}
}

func TestImportUpserts(t *testing.T) {
	svc := NewService(database.SetupTestDB(t))
	ctx := context.Background()

	if _, err := svc.Import(ctx, []types.Company{{Symbol: "meta", Name: "Facebook"}}); err != nil {
		t.Fatalf("Import() unexpected error = %v", err)
	}
	n, err := svc.Import(ctx, []types.Company{
		{Symbol: "META", Name: "Meta Platforms"},
		{Symbol: "", Name: "skipped"},
	})
	if err != nil {
		t.Fatalf("Import() unexpected error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row written, got %d", n)
	}

	count, _ := svc.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 company, got %d", count)
	}
	results, _ := svc.Search(ctx, "meta")
	if len(results) != 1 || results[0].Name != "Meta Platforms" {
		t.Errorf("expected renamed company, got %+v", results)
	}
}

func TestLoaders(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("us/nasdaq.csv", "Name,Symbol\nApple Inc.,AAPL\n\"Amazon.com, Inc.\",AMZN\n")
	write("us/nyse/list.csv", "IBM,International Business Machines\n")
	write("extra.yaml", "companies:\n  - symbol: NVDA\n    name: NVIDIA Corporation\n")
	write("plain.yml", "- symbol: TSLA\n  name: Tesla, Inc.\n")

	got, err := LoadGlobs(filepath.Join(dir, "**", "*.csv"), filepath.Join(dir, "*.y*ml"))
	if err != nil {
		t.Fatalf("LoadGlobs() unexpected error = %v", err)
	}

	bySymbol := map[string]string{}
	for _, c := range got {
		bySymbol[c.Symbol] = c.Name
	}
	want := map[string]string{
		"AAPL": "Apple Inc.",
		"AMZN": "Amazon.com, Inc.",
		"IBM":  "International Business Machines",
		"NVDA": "NVIDIA Corporation",
		"TSLA": "Tesla, Inc.",
	}
	for sym, name := range want {
		if bySymbol[sym] != name {
			t.Errorf("expected %s => %q, got %q", sym, name, bySymbol[sym])
		}
	}

	if _, err := LoadGlobs(filepath.Join(dir, "*.json")); err == nil {
		t.Error("expected error for pattern with no matches")
	}
}
