package money

import (
	"math/big"
	"testing"

	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals int32
		units    string
		wantErr  bool
	}{
		{"whole amount", "1000", 6, "1000000000", false},
		{"fractional amount", "10.5", 6, "10500000", false},
		{"full precision", "100.000001", 6, "100000001", false},
		{"zero", "0", 18, "0", false},
		{"eighteen decimals", "1.000000000000000001", 18, "1000000000000000001", false},
		{"trailing zeros", "10.50", 2, "1050", false},
		{"too many decimals", "1.0000001", 6, "", true},
		{"negative", "-5", 6, "", true},
		{"garbage", "ten", 6, "", true},
		{"empty", "", 6, "", true},
		{"decimals out of range", "1", 31, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(tt.input, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, utils.HasCode(err, utils.ErrCodeInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.units, m.Units().String())
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	cases := []struct {
		input    string
		decimals int32
	}{
		{"0", 6},
		{"10.5", 6},
		{"100.000001", 6},
		{"1000", 2},
		{"0.000000000000000001", 18},
		{"123456789.123456", 6},
	}

	for _, tc := range cases {
		m, err := Parse(tc.input, tc.decimals)
		require.NoError(t, err)

		back, err := Parse(m.String(), tc.decimals)
		require.NoError(t, err)
		assert.Zero(t, m.Cmp(back), "round trip mismatch for %q", tc.input)
		assert.Equal(t, m.Units().String(), back.Units().String())
	}
}

func TestAddSub(t *testing.T) {
	a, err := Parse("10.5", 6)
	require.NoError(t, err)
	b, err := Parse("0.5", 6)
	require.NoError(t, err)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "11", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "10", diff.String())

	// Underflow is rejected, not wrapped
	_, err = b.Sub(a)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeInvalidAmount))

	// Mismatched decimals are rejected
	c, err := Parse("1", 2)
	require.NoError(t, err)
	_, err = a.Add(c)
	require.Error(t, err)
}

func TestScaleRoundHalfUp(t *testing.T) {
	m, err := Parse("0.000010", 6) // 10 minor units
	require.NoError(t, err)

	// 10 * 1 / 4 = 2.5 -> rounds up to 3
	scaled, err := m.Scale(big.NewInt(1), big.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, "3", scaled.Units().String())

	// 10 * 1 / 3 = 3.33 -> rounds down to 3
	scaled, err = m.Scale(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, "3", scaled.Units().String())

	// floor variant truncates
	floored, err := m.ScaleFloor(big.NewInt(1), big.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, "2", floored.Units().String())

	_, err = m.Scale(big.NewInt(1), big.NewInt(0))
	require.Error(t, err)
}

func TestCmpAcrossDecimals(t *testing.T) {
	a, err := Parse("1.5", 6)
	require.NoError(t, err)
	b, err := Parse("1.50", 2)
	require.NoError(t, err)
	c, err := Parse("1.500001", 6)
	require.NoError(t, err)

	assert.Zero(t, a.Cmp(b))
	assert.Equal(t, -1, a.Cmp(c))
	assert.Equal(t, 1, c.Cmp(b))
}

func TestGoalBoundary(t *testing.T) {
	// Funding goal met exactly must compare as >=
	goal, err := Parse("1000", 6)
	require.NoError(t, err)
	total, err := Parse("1000.00", 6)
	require.NoError(t, err)

	assert.True(t, total.Cmp(goal) >= 0)
}

func TestFromUnits(t *testing.T) {
	m, err := FromUnits(big.NewInt(100000001), 6)
	require.NoError(t, err)
	assert.Equal(t, "100.000001", m.String())

	_, err = FromUnits(big.NewInt(-1), 6)
	require.Error(t, err)

	_, err = FromUnits(nil, 6)
	require.Error(t, err)
}
