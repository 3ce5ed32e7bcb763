package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/client"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/config"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/database"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/engine"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/logging"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/store"
)

type playerConfig struct {
	server      string
	room        string
	participant string
	cache       string
	interval    time.Duration
	idleAfter   time.Duration
	timeout     time.Duration
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.CheckErr(newCmd().ExecuteContext(ctx))
}

func newCmd() *cobra.Command {
	cfg := &playerConfig{}

	cmd := &cobra.Command{
		Use:   "party-player",
		Short: "Play a shared room from the terminal.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Bind(cmd.Flags(), ""); err != nil {
				return err
			}
			if cfg.room == "" || cfg.participant == "" {
				return fmt.Errorf("--room and --participant are required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return play(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "server base URL (env: PARTY_SERVER)")
	fs.StringVarP(&cfg.room, "room", "r", "", "room code (env: PARTY_ROOM)")
	fs.StringVar(&cfg.participant, "participant", "", "participant id returned by join (env: PARTY_PARTICIPANT)")
	fs.StringVar(&cfg.cache, "cache", "", "sqlite file keeping the last accepted state for offline starts (env: PARTY_CACHE)")
	fs.DurationVar(&cfg.interval, "interval", 0, "poll period, 0 picks one per game (env: PARTY_INTERVAL)")
	fs.DurationVar(&cfg.idleAfter, "idle-after", 10*time.Minute, "stop polling after this long without input (env: PARTY_IDLE_AFTER)")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per request timeout (env: PARTY_TIMEOUT)")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "debug, info, warn or error (env: PARTY_LOG_LEVEL)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func play(ctx context.Context, cfg *playerConfig, in io.Reader, out io.Writer) error {
	log, err := logging.New(cfg.logLevel, logging.FormatConsole)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := []client.Option{
		client.WithOnChange(func(s engine.State) { render(out, s) }),
		client.WithOnTerminal(func(err error) { fmt.Fprintf(out, "session over: %v\n", err) }),
	}
	if cfg.cache != "" {
		db, err := database.Open(database.DriverSqlite, cfg.cache, log)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close(db) }()
		local := store.NewGorm(db)
		if err := local.Migrate(ctx); err != nil {
			return err
		}
		opts = append(opts, client.WithLocalStore(local))
	}

	loop := client.NewLoop(client.Config{
		RoomCode:      cfg.room,
		ParticipantID: cfg.participant,
		Interval:      cfg.interval,
		IdleAfter:     cfg.idleAfter,
	}, client.NewHTTPTransport(cfg.server, cfg.timeout), engine.DefaultRegistry(), log, opts...)

	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-loop.Done():
			return loop.Err()
		case line, ok := <-lines:
			if !ok {
				loop.Wait()
				return nil
			}
			loop.Touch()
			handleLine(loop, cfg.participant, strings.TrimSpace(line), out, log)
		}
	}
}

func handleLine(loop *client.Loop, actor, line string, out io.Writer, log *zap.Logger) {
	switch line {
	case "":
		return
	case "state":
		b, _ := json.MarshalIndent(loop.State(), "", "  ")
		fmt.Fprintln(out, string(b))
		return
	case "hide":
		loop.SetHidden(true)
		return
	case "show":
		loop.SetHidden(false)
		return
	}

	a, err := parseAction(line, actor)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if err := loop.Act(a); err != nil {
		log.Debug("action rejected", zap.String("line", line), zap.Error(err))
		fmt.Fprintf(out, "not now: %v\n", err)
	}
}

func render(out io.Writer, s engine.State) {
	turn := "-"
	if p, ok := s.Players[s.CurrentTurn]; ok {
		turn = p.Name
	}
	last := ""
	if n := len(s.History); n > 0 {
		last = s.History[n-1]
	}
	fmt.Fprintf(out, "[%s v%d] turn: %s  %s\n", s.Game, s.Version, turn, last)
}
