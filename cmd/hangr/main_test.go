package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hangr-app/hangr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withHome points the config directory at a temporary home.
func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadConfigMissingFile(t *testing.T) {
	withHome(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestSaveAndLoadConfig(t *testing.T) {
	home := withHome(t)
	cfg := &Config{
		Server: ConfigServer{BaseURL: "https://chat.example.com"},
		Auth:   ConfigAuth{Token: "secret-token"},
		Log:    ConfigLog{Level: "debug", JSON: true},
	}
	require.NoError(t, saveConfig(cfg))

	info, err := os.Stat(filepath.Join(home, ".hangr", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	home := withHome(t)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".hangr"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".hangr", "config.toml"), []byte("server = ["), 0o600))
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	withHome(t)
	require.NoError(t, saveConfig(&Config{
		Server: ConfigServer{BaseURL: "https://file.example.com"},
		Auth:   ConfigAuth{Token: "from-file"},
	}))
	t.Setenv("HANGR_TOKEN", "from-env")
	t.Setenv("HANGR_LOG_LEVEL", "warn")

	cfg, err := loadEffectiveConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "from-env", cfg.Auth.Token)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "server.base_url", "https://x"))
	require.NoError(t, setConfigValue(cfg, "server.metrics_addr", ":9090"))
	require.NoError(t, setConfigValue(cfg, "auth.token", "t"))
	require.NoError(t, setConfigValue(cfg, "log.level", "debug"))
	require.NoError(t, setConfigValue(cfg, "log.json", "true"))
	require.NoError(t, setConfigValue(cfg, "session.max_backoff", "2m"))

	assert.Equal(t, "https://x", cfg.Server.BaseURL)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, "t", cfg.Auth.Token)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "2m", cfg.Session.MaxBackoff)

	for _, key := range []string{"nodot", "server.port", "auth.user", "nope.field", "log.format"} {
		assert.Error(t, setConfigValue(cfg, key, "v"), key)
	}
	assert.Error(t, setConfigValue(cfg, "log.level", "loud"))
	assert.Error(t, setConfigValue(cfg, "log.json", "maybe"))
	assert.Error(t, setConfigValue(cfg, "session.initial_backoff", "soon"))
}

func TestGetConfigValue(t *testing.T) {
	cfg := &Config{
		Log:     ConfigLog{JSON: true},
		Session: ConfigSession{InitialBackoff: "3s"},
	}
	v, err := getConfigValue(cfg, "log.json")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	v, err = getConfigValue(cfg, "session.initial_backoff")
	require.NoError(t, err)
	assert.Equal(t, "3s", v)

	_, err = getConfigValue(cfg, "server.port")
	assert.Error(t, err)
}

func TestListConfigMasksToken(t *testing.T) {
	var buf bytes.Buffer
	listConfig(&buf, &Config{
		Server: ConfigServer{BaseURL: "https://chat.example.com"},
		Auth:   ConfigAuth{Token: "abcdefghijklmnop"},
	})
	out := buf.String()
	assert.Contains(t, out, "https://chat.example.com")
	assert.Contains(t, out, "abcd...mnop")
	assert.NotContains(t, out, "abcdefghijklmnop")
	assert.Contains(t, out, "(not set)")
	for _, k := range configKeys {
		assert.Contains(t, out, k.name)
	}
}

func TestNewSessionValidates(t *testing.T) {
	_, err := newSession(&Config{}, newLogger(ConfigLog{}), nil)
	assert.Error(t, err)

	_, err = newSession(&Config{
		Server:  ConfigServer{BaseURL: "http://127.0.0.1:1"},
		Session: ConfigSession{MaxBackoff: "forever"},
	}, newLogger(ConfigLog{}), nil)
	assert.Error(t, err)

	s, err := newSession(&Config{
		Server:  ConfigServer{BaseURL: "http://127.0.0.1:1"},
		Session: ConfigSession{InitialBackoff: "2s", MaxBackoff: "1m"},
	}, newLogger(ConfigLog{}), nil)
	require.NoError(t, err)
	s.mgr.Close()
}

func TestForwardPowerSignals(t *testing.T) {
	if suspendSignal == nil {
		t.Skip("no sleep signals on this platform")
	}
	power := &hangr.PowerEvents{}
	var got []string
	power.Subscribe(func() { got = append(got, "suspend") }, func() { got = append(got, "resume") })

	sigs := make(chan os.Signal, 3)
	sigs <- suspendSignal
	sigs <- resumeSignal
	sigs <- os.Interrupt
	assert.Equal(t, os.Interrupt, forwardPowerSignals(sigs, power))
	assert.Equal(t, []string{"suspend", "resume"}, got)
}

func TestFormatUpdate(t *testing.T) {
	msg := hangr.Event{
		SenderID: hangr.ParticipantID{ChatID: "u1"},
		Message: &hangr.ChatMessage{Segments: []hangr.Segment{
			{Type: hangr.SegmentText, Text: "hello"},
			{Type: hangr.SegmentLineBreak, Text: "\n"},
			{Type: hangr.SegmentText, Text: "there"},
		}},
	}
	cases := []struct {
		update hangr.Update
		want   string
	}{
		{hangr.Connected{}, "connected"},
		{hangr.Reconnecting{Delay: 4 * time.Second}, "disconnected, retrying in 4s"},
		{hangr.Reconnecting{}, "disconnected"},
		{hangr.RecentConversations{Conversations: []*hangr.ConversationState{
			{ConversationID: "c1", Conversation: &hangr.Conversation{ID: "c1", Name: "team"}},
			{ConversationID: "c2"},
		}}, "2 conversation(s): team"},
		{hangr.Received{Scope: hangr.Scope{Conversation: "c1"}, Event: msg}, "[c1] u1: hello\nthere"},
		{hangr.Sent{Scope: hangr.Scope{Conversation: "c1"}, Event: hangr.Event{Category: hangr.CategoryHangout}}, "[c1] me: (hangout)"},
		{hangr.Delete{Scope: hangr.Scope{Conversation: "c1"}, EventID: "e9"}, "[c1] event e9 deleted"},
		{hangr.SelfInfoUpdate{Info: hangr.SelfInfo{SelfEntity: hangr.Entity{
			Properties: hangr.EntityProperties{DisplayName: "Ada"},
		}}}, "signed in as Ada"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatUpdate(tc.update))
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, hangr.Status{State: hangr.StateConnected, CacheLoaded: true, CachedConvs: 3})
	assert.Contains(t, buf.String(), "connected")
	assert.Contains(t, buf.String(), "Conversations: 3")
	assert.NotContains(t, buf.String(), "Next retry")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcd...wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}
