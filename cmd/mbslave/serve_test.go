package main

import (
	"testing"

	"github.com/edgeo-scada/mbslave"
	"github.com/spf13/viper"
)

func TestSeedBank(t *testing.T) {
	viper.Set("presets", map[string]string{
		"0": "1234",
		"5": "0xFFFF",
	})
	t.Cleanup(func() { viper.Set("presets", nil) })

	bank := mbslave.NewMemoryBank(10)
	if err := seedBank(bank); err != nil {
		t.Fatalf("seedBank failed: %v", err)
	}

	if got := bank.GetUint16(0); got != 1234 {
		t.Errorf("bank[0]: expected 1234, got %d", got)
	}
	if got := bank.GetUint16(5); got != 0xFFFF {
		t.Errorf("bank[5]: expected 0xFFFF, got 0x%04X", got)
	}
}

func TestSeedBank_Errors(t *testing.T) {
	tests := []struct {
		name    string
		presets map[string]string
	}{
		{
			name:    "address not a number",
			presets: map[string]string{"abc": "1"},
		},
		{
			name:    "address out of range",
			presets: map[string]string{"10": "1"},
		},
		{
			name:    "value out of range",
			presets: map[string]string{"0": "65536"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Set("presets", tt.presets)
			t.Cleanup(func() { viper.Set("presets", nil) })

			if err := seedBank(mbslave.NewMemoryBank(10)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
