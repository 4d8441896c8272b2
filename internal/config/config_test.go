package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "python:3.12-slim", cfg.Sandbox.PythonImage)
	assert.Equal(t, "node:20-alpine", cfg.Sandbox.NodeImage)
	assert.Equal(t, int64(256), cfg.Sandbox.MemoryLimitMB)
	assert.Equal(t, 0.5, cfg.Sandbox.CPULimit)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 8, cfg.Sandbox.MaxInstances)
	assert.Equal(t, "bridge", cfg.Sandbox.InstallNetwork)
	assert.Empty(t, cfg.Auth.JWTSecret, "auth is off by default")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SANDBOXD_SANDBOX_TIMEOUT", "45s")
	t.Setenv("SANDBOXD_SANDBOX_MAX_INSTANCES", "2")
	t.Setenv("SANDBOXD_SERVER_ADDR", ":9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 2, cfg.Sandbox.MaxInstances)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SANDBOXD_SANDBOX_MEMORY_LIMIT_MB": "0",
		"SANDBOXD_SANDBOX_CPU_LIMIT":       "-1",
		"SANDBOXD_SANDBOX_TIMEOUT":         "0s",
		"SANDBOXD_SANDBOX_MAX_INSTANCES":   "-3",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
