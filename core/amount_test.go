package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals int32
		want     string
	}{
		{1_500_000_000, 9, "1.5"},
		{100, 0, "100"},
		{1, 9, "0.000000001"},
		{0, 9, "0"},
		{150, 2, "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			check.Equal(t, tt.want, FormatAmount(tt.amount, tt.decimals))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals int32
		want     uint64
		wantErr  bool
	}{
		{"whole", "100", 0, 100, false},
		{"fraction", "1.5", 9, 1_500_000_000, false},
		{"smallest unit", "0.000000001", 9, 1, false},
		{"too precise", "0.0000000001", 9, 0, true},
		{"negative", "-1", 0, 0, true},
		{"garbage", "abc", 0, 0, true},
		{"overflow", "18446744073709551616", 0, 0, true},
		{"max", "18446744073709551615", 0, 18446744073709551615, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			check.NoError(t, err)
			check.Equal(t, tt.want, got)
		})
	}
}
