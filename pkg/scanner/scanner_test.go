package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tion-home/tionctl/pkg/tion"
)

func TestIsTionName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Tion_Breezer_S3_3040", true},
		{"Tion_Breezer_Lite_77AB", true},
		{"tion_s4_0012", true},
		{"Breezer_S3", false},
		{"", false},
		{"JBL Flip 5", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTionName(tt.name), "name %q", tt.name)
	}
}

func TestDefaultScanOptions(t *testing.T) {
	opts := DefaultScanOptions()
	assert.Equal(t, 10*time.Second, opts.Duration)
	assert.True(t, opts.DuplicateFilter)
	assert.False(t, opts.AllTion, "default scans only Tion names")
}

func TestDiscoveredDisplayName(t *testing.T) {
	d := Discovered{Address: "AA:BB:CC:DD:EE:FF", Name: "Tion_Breezer_S3_3040", Model: tion.ModelS3}
	assert.Equal(t, "Tion_Breezer_S3_3040", d.DisplayName())

	d.Name = ""
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.DisplayName())
}
