package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvUser, EnvRoom, EnvRelayURL, EnvE2EE, EnvDisableWebRTC, EnvPrimaryTimeout,
		EnvICEServers, EnvVideoFile, EnvAudioFile, EnvRecordDir, EnvListenAddr, EnvDebug,
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadParticipantDefaults(t *testing.T) {
	clearEnv(t)

	p, err := LoadParticipant(nil, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.True(t, p.EnableE2EE)
	assert.False(t, p.DisableWebRTC)
	assert.Equal(t, 5*time.Second, p.PrimaryTimeout)
	assert.Empty(t, p.ICEServers)
	assert.Error(t, p.Validate())
}

func TestLoadParticipantFlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvUser, "amy")
	t.Setenv(EnvRoom, "standup")
	t.Setenv(EnvE2EE, "false")
	t.Setenv(EnvICEServers, "stun:a.example:3478, stun:b.example:3478")

	p, err := LoadParticipant([]string{"-room", "retro", "-relay", "relay.example:8443", "-primary-timeout", "2s"})
	require.NoError(t, err)
	assert.Equal(t, "amy", p.UserID)
	assert.Equal(t, "retro", p.Room)
	assert.False(t, p.EnableE2EE)
	assert.Equal(t, 2*time.Second, p.PrimaryTimeout)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, p.ICEServers)
	require.NoError(t, p.Validate())

	lobby, err := p.LobbyURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example:8443/lobby/amy/retro", lobby)
}

func TestLoadParticipantFromEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CALLCORE_USER=bob\nCALLCORE_ROOM=standup\nCALLCORE_RELAY_URL=ws://localhost:8080\n"), 0o600))

	p, err := LoadParticipant(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.UserID)
	require.NoError(t, p.Validate())

	lobby, err := p.LobbyURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/lobby/bob/standup", lobby)
}

func TestLoadParticipantRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvE2EE, "maybe")
	_, err := LoadParticipant(nil)
	assert.ErrorContains(t, err, EnvE2EE)

	clearEnv(t)
	t.Setenv(EnvPrimaryTimeout, "soon")
	_, err = LoadParticipant(nil)
	assert.ErrorContains(t, err, EnvPrimaryTimeout)
}

func TestLoadParticipantRejectsUnknownFlag(t *testing.T) {
	clearEnv(t)
	_, err := LoadParticipant([]string{"-nope"})
	assert.Error(t, err)
}

func TestLoadRelay(t *testing.T) {
	clearEnv(t)

	r, err := LoadRelay(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", r.Addr)

	t.Setenv(EnvListenAddr, "127.0.0.1:9000")
	t.Setenv(EnvDisableWebRTC, "1")
	r, err = LoadRelay([]string{"-ice", "stun:stun.l.google.com:19302"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", r.Addr)
	assert.True(t, r.DisableWebRTC)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, r.ICEServers)
}

func TestNormalizeRelayURL(t *testing.T) {
	testCases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "ws://localhost:8080", want: "ws://localhost:8080"},
		{raw: "wss://relay.example/", want: "wss://relay.example"},
		{raw: "https://relay.example/calls", want: "wss://relay.example/calls"},
		{raw: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{raw: "  relay.example  ", want: "wss://relay.example"},
		{raw: "", wantErr: true},
		{raw: "ftp://relay.example", wantErr: true},
		{raw: "ws://", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := NormalizeRelayURL(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
