package oxia

import (
	"context"
	"strings"
	"testing"

	"github.com/slidecast/lifecycled/internal/metadata"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty service address",
			cfg:     Config{Namespace: "test", Collection: "uploads"},
			wantErr: "service address is required",
		},
		{
			name:    "empty namespace",
			cfg:     Config{ServiceAddress: "localhost:6648", Collection: "uploads"},
			wantErr: "namespace is required",
		},
		{
			name:    "empty collection",
			cfg:     Config{ServiceAddress: "localhost:6648", Namespace: "test"},
			wantErr: "collection",
		},
		{
			name:    "collection with slash",
			cfg:     Config{ServiceAddress: "localhost:6648", Namespace: "test", Collection: "a/b"},
			wantErr: "collection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVersionConversion(t *testing.T) {
	tests := []struct {
		oxia int64
		meta metadata.Version
	}{
		{0, 1},
		{1, 2},
		{41, 42},
	}
	for _, tc := range tests {
		if got := oxiaToMetadataVersion(tc.oxia); got != tc.meta {
			t.Errorf("oxiaToMetadataVersion(%d) = %d, want %d", tc.oxia, got, tc.meta)
		}
		if got := metadataToOxiaVersion(tc.meta); got != tc.oxia {
			t.Errorf("metadataToOxiaVersion(%d) = %d, want %d", tc.meta, got, tc.oxia)
		}
	}
}
