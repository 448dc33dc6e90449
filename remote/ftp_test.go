package remote

import (
	"context"
	"net/textproto"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
)

// getFTPConfigFromEnv reads FTP configuration from environment variables for
// integration testing
func getFTPConfigFromEnv() *config.FTPConfig {
	host := os.Getenv("FTP_HOST")
	username := os.Getenv("FTP_USERNAME")
	if host == "" || username == "" {
		return nil
	}

	cfg := &config.FTPConfig{
		Host:     host,
		Username: username,
		Password: os.Getenv("FTP_PASSWORD"),
		BasePath: os.Getenv("FTP_BASE_PATH"),
	}
	if port := os.Getenv("FTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	return cfg
}

func TestNewFTPStore_InvalidConfig(t *testing.T) {
	tests := []struct {
		name         string
		ftpCfg       *config.FTPConfig
		errorMessage string
	}{
		{
			name: "missing host",
			ftpCfg: &config.FTPConfig{
				Port:     21,
				Username: "user",
				Password: "pass",
			},
			errorMessage: "host",
		},
		{
			name: "missing username",
			ftpCfg: &config.FTPConfig{
				Host:     "localhost",
				Port:     21,
				Password: "pass",
			},
			errorMessage: "username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFTPStore(tt.ftpCfg, &config.CommonRemoteConfig{}, nil)
			require.Error(t, err)
			require.Nil(t, store)
			require.Contains(t, err.Error(), tt.errorMessage)
		})
	}
}

func TestIsFTPNotFound(t *testing.T) {
	require.True(t, isFTPNotFound(&textproto.Error{Code: 550, Msg: "No such file"}))
	require.False(t, isFTPNotFound(&textproto.Error{Code: 530, Msg: "Not logged in"}))
	require.False(t, isFTPNotFound(nil))
}

func TestFTPPutConditionalUnsupported(t *testing.T) {
	// The conditional-write contract is backend-independent; FTP always
	// declines so callers fall back to a plain push.
	store := &FTPStore{}
	err := store.PutConditional(context.Background(), "key", []byte("d"), "v1")
	require.ErrorIs(t, err, ErrConditionalUnsupported)
}

// Integration tests below require a reachable FTP server.

func TestFTPStore_RoundTrip(t *testing.T) {
	cfg := getFTPConfigFromEnv()
	if cfg == nil {
		t.Skip("FTP credentials not provided, skipping integration test")
	}

	store, err := NewFTPStore(cfg, &config.CommonRemoteConfig{}, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := "integration-test/probe.txt"

	require.NoError(t, store.Put(ctx, key, []byte("probe"), false))

	existence, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.Equal(t, Present, existence)

	data, version, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "probe", string(data))
	require.Empty(t, version)

	require.NoError(t, store.Delete(ctx, key))

	existence, err = store.Exists(ctx, key)
	require.NoError(t, err)
	require.Equal(t, Absent, existence)
}
