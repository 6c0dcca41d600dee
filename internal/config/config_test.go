package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"remote with address", func(c *Config) { c.BackendMode = BackendRemote }, true},
		{"remote without port", func(c *Config) { c.BackendMode = BackendRemote; c.BackendAddress = "host" }, false},
		{"unknown mode", func(c *Config) { c.BackendMode = "cloud" }, false},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, false},
		{"negative retry", func(c *Config) { c.CacheRetry = -time.Second }, false},
		{"zero canvas", func(c *Config) { c.HeatmapWidth = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestWithEventServer(t *testing.T) {
	c := Default().WithEventServer("192.168.0.10", 3000)
	assert.Equal(t, "192.168.0.10:3000", c.EventServerAddress)
	assert.Empty(t, Default().EventServerAddress)
}
