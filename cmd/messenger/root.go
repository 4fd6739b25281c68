// cmd/messenger/root.go

package main

import (
	"errors"
	"io"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fisionet/messaging/internal/common/utils"
	"github.com/fisionet/messaging/internal/config"
	"github.com/fisionet/messaging/internal/messaging"
)

// app is what every command needs once flags and env are resolved.
type app struct {
	cfg    *config.Config
	tokens messaging.StaticToken
	out    io.Writer
}

func (a *app) client() *messaging.Client {
	return messaging.NewClient(a.cfg.ChatAPIURL, a.tokens, a.cfg.RequestTimeout)
}

// newRootCmd builds the command tree. Without a subcommand it starts the
// interactive session.
func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	var identity, token, apiURL, wsURL string

	root := &cobra.Command{
		Use:   "messenger",
		Short: "Terminal client for the chat server",
		Long: `messenger signs one identity in to the chat server, prints pushed
messages and reads commands from stdin. The subcommands run a single
REST call and exit.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. Load environment variables
			if err := godotenv.Load(); err != nil {
				log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
			}

			// 2. Load and validate configuration, flags win over env
			cfg := config.Load()
			if identity != "" {
				cfg.ChatIdentity = identity
			}
			if token != "" {
				cfg.ChatToken = token
			}
			if apiURL != "" {
				cfg.ChatAPIURL = apiURL
			}
			if wsURL != "" {
				cfg.ChatWSURL = wsURL
			}
			if err := cfg.ValidateClient(); err != nil {
				return err
			}

			// 3. Credentials
			tok, err := resolveToken(cfg)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.tokens = messaging.StaticToken(tok)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), a)
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&identity, "identity", "i", "", "user id to sign in as (default $CHAT_IDENTITY)")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (default $CHAT_TOKEN)")
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "chat server REST base URL (default $CHAT_API_URL)")
	root.PersistentFlags().StringVar(&wsURL, "ws-url", "", "chat server websocket base URL (default $CHAT_WS_URL)")

	root.AddCommand(
		newSendCmd(a),
		newConversationsCmd(a),
		newUnreadCmd(a),
	)

	return root
}

// resolveToken returns CHAT_TOKEN, or mints a short-lived development token
// when only JWT_SECRET is configured.
func resolveToken(cfg *config.Config) (string, error) {
	if cfg.ChatToken != "" {
		return cfg.ChatToken, nil
	}
	if cfg.IsProduction() {
		return "", errors.New("CHAT_TOKEN is required in production")
	}

	log.Println("⚠️  CHAT_TOKEN not set, minting a development token from JWT_SECRET")
	claims := utils.NewAccessClaims(cfg.ChatIdentity, "", "", cfg.JWTExpiry)
	return utils.GenerateJWT(claims, cfg.JWTSecret)
}
