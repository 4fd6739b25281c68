package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisionet/messaging/internal/chatserver"
	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/config"
)

func TestResolveToken(t *testing.T) {
	cfg := &config.Config{Environment: "development", ChatIdentity: "u1", JWTSecret: "s3cret", JWTExpiry: time.Hour}

	token, err := resolveToken(cfg)
	require.NoError(t, err)
	claims, err := utils.ValidateJWT(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	cfg.ChatToken = "given"
	token, err = resolveToken(cfg)
	require.NoError(t, err)
	assert.Equal(t, "given", token)

	cfg.ChatToken = ""
	cfg.Environment = "production"
	_, err = resolveToken(cfg)
	assert.Error(t, err)
}

// run executes the command tree against an auth-less chat server.
func run(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "development")

	out := &bytes.Buffer{}
	root := newRootCmd(out)
	root.SetArgs(append([]string{"--api-url", serverURL, "--token", "unused"}, args...))
	root.SetOut(out)
	root.SetErr(out)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOneShotCommands(t *testing.T) {
	hub := chatserver.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	users := chatserver.NewStaticUsers(
		chatserver.UserInfo{ID: "u1", Name: "Ada Patient", Role: "patient"},
		chatserver.UserInfo{ID: "u2", Name: "Tom Therapist", Role: "therapist"},
	)
	svc := chatserver.NewService(chatserver.NewMemoryStore(), users, hub, 50)
	srv := httptest.NewServer(chatserver.NewRouter(
		chatserver.NewHandler(svc, hub, chatserver.HandlerConfig{}),
		chatserver.NewAuthMiddleware(""),
		"*",
	))
	defer srv.Close()

	out, err := run(t, srv.URL, "-i", "u2", "conversations")
	require.NoError(t, err)
	assert.Contains(t, out, "no conversations")

	out, err = run(t, srv.URL, "-i", "u2", "send", "u1", "hello", "ada")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sent "), out)

	out, err = run(t, srv.URL, "-i", "u1", "unread")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, srv.URL, "-i", "u1", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "Tom Therapist\t1 unread")
	assert.Contains(t, out, "hello ada")

	_, err = run(t, srv.URL, "-i", "u1", "send", "u2")
	assert.Error(t, err, "send needs a user and some text")

	_, err = run(t, srv.URL, "-i", "u1", "send", "u2", strings.Repeat("x", 4001))
	assert.Error(t, err, "the server rejects oversized content")
}
