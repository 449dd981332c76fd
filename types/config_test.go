package types

import (
	"errors"
	"testing"
)

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  EngineConfig
		wantErr bool
	}{
		{"defaults are valid", DefaultEngineConfig(), false},
		{"thresholds may be equal", EngineConfig{AutoApproveThreshold: 0.8, ReviewThreshold: 0.8}, false},
		{"auto approve above one", EngineConfig{AutoApproveThreshold: 1.5, ReviewThreshold: 0.7}, true},
		{"negative review threshold", EngineConfig{AutoApproveThreshold: 0.9, ReviewThreshold: -0.2}, true},
		{"review above auto approve", EngineConfig{AutoApproveThreshold: 0.7, ReviewThreshold: 0.9}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("expected *ConfigError, got %T", err)
				}
			}
		})
	}
}
