package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/app"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/session"
)

func newJoinCmd(configPath *string) *cobra.Command {
	var room, accountID string
	var budget time.Duration

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Run a single session in the foreground",
		Long:  "Join one meeting, transcribe it until it ends or Ctrl+C is pressed, then print the session result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(*configPath, session.Request{
				Room:       room,
				AccountID:  accountID,
				TimeBudget: budget,
			})
		},
	}

	cmd.Flags().StringVarP(&room, "room", "r", "", "Meeting room to join")
	cmd.Flags().StringVar(&accountID, "account", "", "Account the session belongs to")
	cmd.Flags().DurationVarP(&budget, "budget", "b", 0, "Time budget, e.g. 45m (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func runJoin(configPath string, req session.Request) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if req.TimeBudget == 0 {
		req.TimeBudget = time.Duration(cfg.Session.DefaultTimeBudget) * time.Second
	}

	logger := initLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	controller, err := application.BuildSession(uuid.NewString(), req)
	if err != nil {
		return err
	}

	logger.Info("Joining meeting",
		slog.String("session_id", controller.ID()),
		slog.String("room", req.Room),
	)

	// the first interrupt asks the session to leave; post-processing still runs
	go func() {
		<-ctx.Done()
		controller.Stop("interrupted")
	}()

	result := controller.Run(context.WithoutCancel(ctx))

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}

	if result.State == session.StateFailed.String() {
		return fmt.Errorf("session failed: %s", result.Error)
	}
	return nil
}
