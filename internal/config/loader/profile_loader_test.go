package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profilesYAML = `
profiles:
  trend:
    strategy: rsi_threshold
    symbols: ["BTC/USDT", "ETHUSDT"]
    params:
      period: 7
  fallback:
    strategy: bbands_rsi_mean_reversion
    default: true
`

func writeProfiles(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndResolve(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), profilesYAML)
	l, err := NewProfileLoader(path)
	require.NoError(t, err)
	defer l.Close()

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Profiles, 2)

	// Exact symbol match wins, in either input form.
	p, ok := snap.For("btc/usdt")
	require.True(t, ok)
	assert.Equal(t, "trend", p.Name)
	assert.Equal(t, "rsi_threshold", p.Strategy)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, p.NormalizedSymbols())

	// Unclaimed symbols fall through to the default profile.
	p, ok = snap.For("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, "fallback", p.Name)
	assert.True(t, p.Default)
}

func TestLoadRejectsBadProfiles(t *testing.T) {
	t.Run("MissingStrategy", func(t *testing.T) {
		path := writeProfiles(t, t.TempDir(), `
profiles:
  broken:
    symbols: ["BTCUSDT"]
`)
		_, err := NewProfileLoader(path)
		assert.Error(t, err)
	})
	t.Run("TwoDefaults", func(t *testing.T) {
		path := writeProfiles(t, t.TempDir(), `
profiles:
  a:
    strategy: rsi_threshold
    default: true
  b:
    strategy: rsi_threshold
    default: true
`)
		_, err := NewProfileLoader(path)
		assert.Error(t, err)
	})
	t.Run("InvalidSymbol", func(t *testing.T) {
		path := writeProfiles(t, t.TempDir(), `
profiles:
  a:
    strategy: rsi_threshold
    symbols: ["NOTAPAIR"]
`)
		_, err := NewProfileLoader(path)
		assert.Error(t, err)
	})
	t.Run("MissingFile", func(t *testing.T) {
		_, err := NewProfileLoader(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestSubscribeDeliversCurrentSnapshot(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), profilesYAML)
	l, err := NewProfileLoader(path)
	require.NoError(t, err)
	defer l.Close()

	got := make(chan ProfileSnapshot, 1)
	l.Subscribe(func(s ProfileSnapshot) { got <- s })

	select {
	case snap := <-got:
		assert.Equal(t, int64(1), snap.Version)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the initial snapshot")
	}
}

func TestHotReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeProfiles(t, dir, profilesYAML)
	l, err := NewProfileLoader(path)
	require.NoError(t, err)
	defer l.Close()

	got := make(chan ProfileSnapshot, 4)
	l.Subscribe(func(s ProfileSnapshot) { got <- s })
	<-got // initial delivery

	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  trend:
    strategy: rsi_threshold
    symbols: ["SOLUSDT"]
`), 0o644))

	require.Eventually(t, func() bool {
		return l.Snapshot().Version >= 2
	}, 3*time.Second, 20*time.Millisecond)

	p, ok := l.Snapshot().For("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, []string{"SOLUSDT"}, p.NormalizedSymbols())
}

func TestBadReloadKeepsOldSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeProfiles(t, dir, profilesYAML)
	l, err := NewProfileLoader(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(": not yaml ["), 0o644))

	// The watcher logs the parse failure and keeps serving the last good
	// snapshot.
	time.Sleep(200 * time.Millisecond)
	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Profiles, 2)
}
