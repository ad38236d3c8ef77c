package container

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenfloor/config"
	"greenfloor/infrastructure/logger"
)

const testMarkets = `
markets:
  - market_id: m1
    enabled: true
    base_asset: asset
    base_symbol: BYC
    quote_asset: xch
    mode: sell_only
    pricing:
      sell_usd_per_base: 1.5
    ladders:
      sell:
        - size_base_units: 1
          target_count: 2
        - size_base_units: 10
          target_count: 1
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func priceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/xch", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"last_price_usd": "30.0"}`)
	})
	mux.HandleFunc("/tickers", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestContainerDryRun(t *testing.T) {
	dir := t.TempDir()
	srv := priceServer(t)
	program := writeFile(t, dir, "program.yaml", fmt.Sprintf(`
dry_run: true
runtime:
  loop_interval_seconds: 1
metrics:
  addr: ""
price_feed:
  xch_price_url: %s/xch
  tickers_url: %s/tickers
  rate_per_sec: 100
  burst: 100
`, srv.URL, srv.URL))
	markets := writeFile(t, dir, "markets.yaml", testMarkets)

	c, err := New(Options{ProgramPath: program, MarketsPath: markets})
	require.NoError(t, err)
	require.NoError(t, c.Build())
	assert.True(t, c.Config().DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		return c.Loop().Status().OpenOffers == 3
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, c.HealthCheck())

	writeFile(t, dir, "markets.yaml", "markets: []\n")
	require.NoError(t, c.markets.Reload())
	assert.Zero(t, c.Loop().Status().EnabledMarkets)

	require.NoError(t, c.Stop())
}

func TestContainerRejectsBadMarkets(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, dir, "program.yaml", "dry_run: true\n")
	markets := writeFile(t, dir, "markets.yaml", `
markets:
  - market_id: m1
    quote_asset: xch
    mode: sideways
`)
	_, err := New(Options{ProgramPath: program, MarketsPath: markets})
	assert.Error(t, err)
}

func TestMarketStoreKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "markets.yaml", testMarkets)
	s, err := NewMarketStore(path, "")
	require.NoError(t, err)
	require.Len(t, s.Get().Enabled(), 1)

	writeFile(t, dir, "markets.yaml", "markets: [")
	assert.Error(t, s.Reload())
	assert.Len(t, s.Get().Enabled(), 1)
	assert.Equal(t, []string{path}, s.Paths())
}

func TestWatcherAppliesLastSaveWithinCooldown(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "markets.yaml", testMarkets)
	store, err := NewMarketStore(path, "")
	require.NoError(t, err)
	w, err := config.NewWatcher(time.Second, store.Paths()...)
	require.NoError(t, err)

	comp := &watcherComponent{watcher: w, store: store, logger: logger.NewNop()}
	require.NoError(t, comp.Start(context.Background()))
	defer comp.Stop()

	// 连续两次保存：第二次在冷却期内把市场停用
	writeFile(t, dir, "markets.yaml", testMarkets+"\n")
	time.Sleep(300 * time.Millisecond)
	writeFile(t, dir, "markets.yaml", strings.Replace(testMarkets, "enabled: true", "enabled: false", 1))

	require.Eventually(t, func() bool {
		return len(store.Get().Enabled()) == 0
	}, 4*time.Second, 50*time.Millisecond)
	assert.NoError(t, comp.Health())
}
