package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		minor int64
		str   string
	}{
		{"150", 15000, "150.00"},
		{"99.9", 9990, "99.90"},
		{"12.34", 1234, "12.34"},
		{"0", 0, "0.00"},
		{"0.01", 1, "0.01"},
		{"-3.5", -350, "-3.50"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.minor, a.Minor())
			assert.Equal(t, tt.str, a.String())
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "NaN", "Infinity"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestRate_Apply(t *testing.T) {
	rate := MustParseRate(DefaultRate)

	tests := []struct {
		amount string
		want   string
	}{
		{"150", "15.00"},
		{"100", "10.00"},
		{"99.99", "10.00"},  // 9.999 rounds up
		{"0.05", "0.01"},    // 0.005 half rounds up
		{"0.04", "0.00"},    // 0.004 rounds down
		{"12.35", "1.24"},   // 1.235 half rounds up
		{"12.34", "1.23"},   // 1.234
		{"250", "25.00"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := rate.Apply(MustParse(tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseRate(t *testing.T) {
	r, err := ParseRate("0.10")
	require.NoError(t, err)
	assert.Equal(t, "0.10", r.String())

	_, err = ParseRate("1")
	assert.NoError(t, err)

	for _, bad := range []string{"0", "-0.1", "1.5", "x"} {
		_, err := ParseRate(bad)
		assert.Error(t, err, bad)
	}

	var unset Rate
	assert.True(t, unset.IsZero())
	_, err = unset.Apply(MustParse("1"))
	assert.Error(t, err)
}

func TestAmount_Add(t *testing.T) {
	total := Zero
	for i := 0; i < 10; i++ {
		total = total.Add(MustParse("0.10"))
	}
	assert.Equal(t, "1.00", total.String())
}

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Total Amount `json:"total"`
	}{Total: FromMinor(1000)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"10.00"}`, string(data))

	var out struct {
		Total Amount `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"total":"7.25"}`), &out))
	assert.Equal(t, int64(725), out.Total.Minor())
}
