package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundsHalfEven(t *testing.T) {
	cases := map[string]string{
		"1.705":  "1.70",
		"1.715":  "1.72",
		"0.125":  "0.12",
		"-0.135": "-0.14",
		"15":     "15.00",
	}
	for raw, want := range cases {
		m, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, m.String(), raw)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("1,70")
	require.Error(t, err)
	_, err = Parse("  ")
	require.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	beer := MustParse("1.70")
	assert.Equal(t, "3.40", beer.Mul(2).String())
	assert.Equal(t, "6.60", MustParse("10").Sub(beer.Mul(2)).String())
	assert.Equal(t, "8.50", Sum(beer, beer, beer, beer, beer).String())
	assert.True(t, MustParse("1.00").LessThan(beer))
	assert.True(t, Zero.Sub(beer).IsNegative())
	assert.Equal(t, int64(1670), MustParse("16.70").Cents())
	assert.Equal(t, "16.70", FromCents(1670).String())
}

func TestJSONAcceptsStringsAndNumbers(t *testing.T) {
	var payload struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"2.5","b":1.7}`), &payload))
	assert.Equal(t, "2.50", payload.A.String())
	assert.Equal(t, "1.70", payload.B.String())

	out, err := json.Marshal(payload.A)
	require.NoError(t, err)
	assert.JSONEq(t, `"2.50"`, string(out))
}

func TestScanFromDatabaseValues(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("12.34"))
	assert.Equal(t, "12.34", m.String())
	require.NoError(t, m.Scan([]byte("0.10")))
	assert.Equal(t, "0.10", m.String())

	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, "0.10", v)
}
