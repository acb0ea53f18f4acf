package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Talk/internal/client"
	"github.com/dkeye/Talk/internal/domain"
)

var (
	serverURL string
	token     string
	username  string
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "talk-client",
		Short: "Headless Talk voice-room client",
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080", "signal server URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "bearer token (required)")
	rootCmd.PersistentFlags().StringVarP(&username, "name", "n", "guest", "display name")
	_ = rootCmd.MarkPersistentFlagRequired("token")

	rootCmd.AddCommand(joinCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a room and keep peer links alive until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := domain.RoomID(args[0])

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			source, err := client.NewSilentSource()
			if err != nil {
				return fmt.Errorf("local audio: %w (fix capture and retry)", err)
			}

			sig, err := client.DialRoom(serverURL, string(room), token)
			if err != nil {
				return err
			}

			self := &domain.User{ID: domain.UserID(token), Username: username}
			orch, err := client.NewOrchestrator(room, self, sig, source)
			if err != nil {
				return err
			}

			log.Info().Str("room", string(room)).Msg("joined, press Ctrl-C to leave")
			err = orch.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("left room")
				return nil
			}
			return err
		},
	}
}
