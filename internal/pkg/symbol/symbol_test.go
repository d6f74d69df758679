package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"BTC/USDT:USDT", "BTC", "USDT"},
		{" ethusdt ", "ETH", "USDT"},
		{"SOLBNB", "SOL", "BNB"},
		{"???", "", ""},
		{"", "", ""},
		{"USDT", "", ""}, // quote alone is not a pair
	}
	for _, tc := range cases {
		sym := Parse(tc.in)
		assert.Equal(t, tc.base, sym.Base, tc.in)
		assert.Equal(t, tc.quote, sym.Quote, tc.in)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc/usdt"))
	assert.Equal(t, "BTCUSDT", Normalize("BTCUSDT"))
	assert.Equal(t, "", Normalize("not-a-pair"))
}

func TestSlash(t *testing.T) {
	assert.Equal(t, "BTC/USDT", Parse("BTCUSDT").Slash())
	assert.Equal(t, "", Symbol{}.Slash())
}

func TestNormalizeList(t *testing.T) {
	out := NormalizeList([]string{"btc/usdt", "BTCUSDT", "eth/usdt", ""})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, out)

	assert.Nil(t, NormalizeList(nil))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTCUSDT"))
	assert.True(t, IsValid("BTC/USDT"))
	assert.False(t, IsValid("BTC"))
	assert.False(t, IsValid(""))
}
