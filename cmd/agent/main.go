package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumeet/classmeet/internal/api"
	"github.com/lumeet/classmeet/internal/config"
	"github.com/lumeet/classmeet/internal/control"
	"github.com/lumeet/classmeet/internal/diag"
	"github.com/lumeet/classmeet/internal/domain"
	"github.com/lumeet/classmeet/internal/hooks"
	"github.com/lumeet/classmeet/internal/rtc"
	"github.com/lumeet/classmeet/internal/rtc/pion"
	"github.com/lumeet/classmeet/internal/session"
	"github.com/lumeet/classmeet/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	st, err := store.Open(cfg.StateFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StateFile).Msg("open state store")
	}

	var apiOpts []api.Option
	if cfg.RegionURL != "" {
		apiOpts = append(apiOpts, api.WithRegionURL(cfg.RegionURL))
	}
	client := api.New(cfg.BaseURL, cfg.RecordingURL, cfg.WebhookURL, apiOpts...)

	meet := rtc.NewMeet(pion.New(), client, st)
	boot := session.New(client, st, meet)

	role := domain.Role(cfg.Role)
	err = boot.CreateSession(ctx, session.CreateParams{
		MeetingName: cfg.MeetingName,
		MeetingID:   cfg.MeetingID,
		OrgID:       cfg.OrgID,
		BatchID:     cfg.BatchID,
		UserName:    cfg.UserName,
		UserID:      cfg.UserID,
		Duration:    int(cfg.Duration.Minutes()),
		IsRecording: cfg.IsRecording,
		Role:        role,
		Simulcast:   cfg.Simulcast,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create session")
	}

	meet.JoinSession(ctx, rtc.NullSink{})

	host := hooks.NewHostTransfer(ctx, meet, role == domain.RoleTeacher, func(ctx context.Context) (*domain.AttendeeInfo, error) {
		return client.Attendee(ctx, cfg.MeetingName, meet.LocalID())
	})
	audio := hooks.NewLocalAudio(meet, role, host.IsHost)
	hands := hooks.NewRaisedHands(meet, meet.Roster())
	video := hooks.NewRemoteVideo(meet)
	permit := hooks.NewSharePermit(meet, st)
	chat := hooks.NewChat(meet, control.PublicChannel, meet.Roster())
	removal := hooks.NewRemoval(ctx, meet, role, cancel, boot.AttendanceLeft)
	defer func() {
		removal.Close()
		chat.Close()
		permit.Close()
		video.Close()
		hands.Close()
		audio.Close()
		host.Close()
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DiagPort),
		Handler: diag.SetupRouter(cfg.Mode, meet, hands),
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("diagnostics server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("diagnostics server error")
		}
	}()

	log.Info().Str("meeting", cfg.MeetingName).Str("role", cfg.Role).Msg("classmeet agent joined")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	boot.Leave(leaveCtx, false)
	if err := srv.Shutdown(leaveCtx); err != nil {
		log.Error().Err(err).Msg("diagnostics server forced to shutdown")
	}
	log.Info().Msg("agent exited gracefully")
}
