// Command boxauth logs in to Box, keeps the tokens in a local state file and
// runs a few read-only calls with them.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	bc "github.com/panyam/boxconn"
	"github.com/panyam/boxconn/stores/fs"
)

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// withEnv builds the Env from global flags and runs fn with it.
func withEnv(fn func(ctx context.Context, e *Env, cmd *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg := bc.LoadConfig()
		store, err := fs.NewStateStore(cmd.String("state-file"), fs.WithPassphrase(cmd.String("passphrase")))
		if err != nil {
			return err
		}
		e := &Env{
			Config:  cfg,
			Creds:   bc.ClientCredentials{ClientID: cmd.String("client-id"), ClientSecret: cmd.String("client-secret")},
			Store:   store,
			Profile: cmd.String("profile"),
			Logger:  newLogger(cfg.LogLevel),
			Out:     os.Stdout,
		}
		return fn(ctx, e, cmd)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "boxauth",
		Usage: "Manage a Box OAuth2 connection from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "client-id",
				Usage:   "OAuth2 client ID of the Box app",
				Sources: cli.EnvVars("BOX_CLIENT_ID"),
			},
			&cli.StringFlag{
				Name:    "client-secret",
				Usage:   "OAuth2 client secret of the Box app",
				Sources: cli.EnvVars("BOX_CLIENT_SECRET"),
			},
			&cli.StringFlag{
				Name:    "state-file",
				Usage:   "File holding saved connections (default ~/.config/boxconn/state.json)",
				Sources: cli.EnvVars("BOX_STATE_FILE"),
			},
			&cli.StringFlag{
				Name:    "passphrase",
				Usage:   "Seal the state file with this passphrase",
				Sources: cli.EnvVars("BOX_STATE_PASSPHRASE"),
			},
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Value:   "default",
				Usage:   "Name of the saved connection to use",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "authorize-url",
				Usage: "Print the URL to open to authorize the app",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "redirect-uri", Usage: "Redirect URI registered for the app"},
					&cli.StringFlag{Name: "state", Usage: "Opaque value echoed back to the redirect URI"},
					&cli.StringSliceFlag{Name: "scope", Usage: "Scope to request; repeat for several"},
				},
				Action: withEnv(func(ctx context.Context, e *Env, cmd *cli.Command) error {
					return RunAuthorizeURL(ctx, e, cmd.String("redirect-uri"), cmd.String("state"), cmd.StringSlice("scope"))
				}),
			},
			{
				Name:  "login",
				Usage: "Exchange an authorization code and save the tokens",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Required: true, Usage: "Authorization code from the redirect"},
				},
				Action: withEnv(func(ctx context.Context, e *Env, cmd *cli.Command) error {
					return RunLogin(ctx, e, cmd.String("code"))
				}),
			},
			{
				Name:  "token",
				Usage: "Print a valid access token, refreshing it if needed",
				Action: withEnv(func(ctx context.Context, e *Env, _ *cli.Command) error {
					return RunToken(ctx, e)
				}),
			},
			{
				Name:  "refresh",
				Usage: "Refresh the access token now",
				Action: withEnv(func(ctx context.Context, e *Env, _ *cli.Command) error {
					return RunRefresh(ctx, e)
				}),
			},
			{
				Name:  "revoke",
				Usage: "Revoke the tokens and forget the connection",
				Action: withEnv(func(ctx context.Context, e *Env, _ *cli.Command) error {
					return RunRevoke(ctx, e)
				}),
			},
			{
				Name:  "whoami",
				Usage: "Print the current user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "as-user", Usage: "Act on behalf of this user ID"},
				},
				Action: withEnv(func(ctx context.Context, e *Env, cmd *cli.Command) error {
					return RunWhoami(ctx, e, cmd.String("as-user"))
				}),
			},
			{
				Name:  "ls",
				Usage: "List a folder one page at a time",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "folder", Value: "0", Usage: "Folder ID; 0 is the root"},
					&cli.StringFlag{Name: "marker", Usage: "Marker printed by a previous ls"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "Items per page"},
					&cli.BoolFlag{Name: "all", Usage: "Follow markers to the end"},
				},
				Action: withEnv(func(ctx context.Context, e *Env, cmd *cli.Command) error {
					return RunList(ctx, e, cmd.String("folder"), cmd.String("marker"), int(cmd.Int("limit")), cmd.Bool("all"))
				}),
			},
		},
	}
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		logger := newLogger("error")
		logger.Error().Err(err).Msg("boxauth failed")
		os.Exit(1)
	}
}
