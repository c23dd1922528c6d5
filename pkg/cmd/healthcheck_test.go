package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthURL(t *testing.T) {
	cases := map[string]string{
		"ws://testground-sync-service:5050": "http://testground-sync-service:5050/healthz",
		"wss://sync.example.org":            "https://sync.example.org/healthz",
		"wss://sync.example.org:443/ws":     "https://sync.example.org:443/healthz",
		"http://127.0.0.1:5050":             "http://127.0.0.1:5050/healthz",
	}
	for in, want := range cases {
		got, err := healthURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := healthURL("tcp://127.0.0.1:5050")
	require.Error(t, err)
}
