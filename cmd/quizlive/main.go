package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/quizlive/internal/api"
	"github.com/quizlive/quizlive/internal/config"
	"github.com/quizlive/quizlive/internal/conn"
	"github.com/quizlive/quizlive/internal/credstore"
	"github.com/quizlive/quizlive/internal/host"
	"github.com/quizlive/quizlive/internal/participant"
	"github.com/quizlive/quizlive/internal/protocol"
	"github.com/quizlive/quizlive/internal/relay"
)

// lazySender lets the state machine be constructed before the connection
// manager that carries its outbound messages.
type lazySender struct {
	m *conn.Manager
}

func (s *lazySender) Send(t protocol.Type, payload any) error {
	if s.m == nil {
		return conn.ErrNotConnected
	}
	return s.m.Send(t, payload)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		configPath = flag.String("config", "", "path to YAML config file")
		sessionID  = flag.String("session", "", "session id")
		role       = flag.String("role", "participant", "role: participant or host")
		nickname   = flag.String("nickname", "", "nickname for joining as participant")
		token      = flag.String("token", "", "host session token")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if *sessionID == "" {
		log.Fatal().Msg("-session is required")
	}

	switch *role {
	case "participant":
		runParticipant(cfg, *sessionID, *nickname)
	case "host":
		runHost(cfg, *sessionID, *token)
	default:
		log.Fatal().Str("role", *role).Msg("unknown role")
	}
}

func runParticipant(cfg *config.Config, sessionID, nickname string) {
	store, err := credstore.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open credential store")
	}
	defer store.Close()

	client := api.NewClient(cfg.Server.APIBaseURL, "")

	cred, err := store.Lookup(sessionID)
	if errors.Is(err, credstore.ErrNotFound) {
		if nickname == "" {
			log.Fatal().Msg("-nickname is required to join a new session")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result, joinErr := client.Join(ctx, sessionID, nickname)
		cancel()
		if joinErr != nil {
			log.Fatal().Err(joinErr).Msg("failed to join session")
		}
		cred = credstore.Credential{
			ParticipantID:    result.ParticipantID,
			ParticipantToken: result.ParticipantToken,
		}
		if saveErr := store.Save(sessionID, cred); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to persist join credentials")
		}
		log.Info().Str("participant_id", cred.ParticipantID).Msg("joined session")
	} else if err != nil {
		log.Fatal().Err(err).Msg("failed to read credential store")
	} else {
		log.Info().Str("participant_id", cred.ParticipantID).Msg("reusing stored credentials")
	}

	sender := &lazySender{}
	machine := participant.NewMachine(participant.Options{
		SessionID:    sessionID,
		Sender:       sender,
		Credentials:  store,
		TickInterval: cfg.CountdownTickInterval(),
		OnChange:     renderParticipant,
	})

	var handler conn.Handler = machine
	if cfg.Relay.Enabled {
		r, relayErr := relay.New(relay.Config{
			URL:           cfg.Relay.NATSURL,
			SubjectPrefix: cfg.Relay.SubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		}, sessionID, machine)
		if relayErr != nil {
			log.Fatal().Err(relayErr).Msg("failed to start relay")
		}
		defer r.Close()
		handler = r
	}

	manager := conn.NewManager(conn.Options{
		URL: cfg.SessionSocketURL(sessionID),
		Credentials: conn.Credentials{
			Role:             protocol.RoleParticipant,
			ParticipantID:    cred.ParticipantID,
			ParticipantToken: cred.ParticipantToken,
		},
		MaxAttempts: cfg.Connection.MaxReconnectAttempts,
		BaseDelay:   cfg.ReconnectBaseDelay(),
	}, handler)
	sender.m = manager

	manager.Connect()
	defer func() {
		manager.Teardown()
		machine.Close()
	}()

	fmt.Println("commands: submit <answer-id> | dismiss | quit")
	runInputLoop(func(fields []string) bool {
		switch fields[0] {
		case "submit":
			if len(fields) < 2 {
				fmt.Println("usage: submit <answer-id>")
				return true
			}
			if err := machine.Submit(fields[1]); err != nil {
				fmt.Printf("submit failed: %v (will retry on request)\n", err)
			}
		case "dismiss":
			machine.DismissSubmitError()
			machine.DismissNotice()
		case "quit":
			return false
		default:
			fmt.Println("unknown command")
		}
		return true
	})
}

func runHost(cfg *config.Config, sessionID, token string) {
	if token == "" {
		log.Fatal().Msg("-token is required for the host role")
	}

	client := api.NewClient(cfg.Server.APIBaseURL, token)

	sender := &lazySender{}
	machine := host.NewMachine(host.Options{
		SessionID:    sessionID,
		Sender:       sender,
		API:          client,
		PollInterval: cfg.RosterPollInterval(),
		OnChange:     renderHost,
	})

	var handler conn.Handler = machine
	if cfg.Relay.Enabled {
		r, relayErr := relay.New(relay.Config{
			URL:           cfg.Relay.NATSURL,
			SubjectPrefix: cfg.Relay.SubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		}, sessionID, machine)
		if relayErr != nil {
			log.Fatal().Err(relayErr).Msg("failed to start relay")
		}
		defer r.Close()
		handler = r
	}

	manager := conn.NewManager(conn.Options{
		URL: cfg.SessionSocketURL(sessionID),
		Credentials: conn.Credentials{
			Role:      protocol.RoleHost,
			HostToken: token,
		},
		MaxAttempts: cfg.Connection.MaxReconnectAttempts,
		BaseDelay:   cfg.ReconnectBaseDelay(),
	}, handler)
	sender.m = manager

	machine.StartRosterPoll()
	manager.Connect()
	defer func() {
		manager.Teardown()
		machine.Close()
	}()

	fmt.Println("commands: start | reveal | next | end | forceend | quit")
	runInputLoop(func(fields []string) bool {
		var err error
		switch fields[0] {
		case "start":
			err = machine.StartGame()
		case "reveal":
			err = machine.RevealAnswer()
		case "next":
			err = machine.NextQuestion()
		case "end":
			err = machine.EndGame()
		case "forceend":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = machine.ForceEndSession(ctx)
			cancel()
		case "quit":
			return false
		default:
			fmt.Println("unknown command")
			return true
		}
		if err != nil {
			fmt.Printf("action failed: %v\n", err)
		}
		return true
	})
}

// runInputLoop reads commands from stdin until quit, EOF or a signal.
func runInputLoop(handle func(fields []string) bool) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if !handle(fields) {
				return
			}
		}
	}
}

func renderParticipant(v participant.View) {
	switch {
	case v.ConnectionLost:
		fmt.Println("!! connection lost - rejoin the session to continue")
		return
	case v.Reconnecting:
		fmt.Println(".. reconnecting")
	}
	if v.SubmitError != "" {
		fmt.Printf("!! %s\n", v.SubmitError)
	}
	if v.Notice != "" {
		fmt.Printf("-- notice: %s\n", v.Notice)
	}

	switch v.Phase {
	case participant.PhaseWaiting:
		fmt.Printf("waiting for the game to start (%d questions)\n", v.TotalQuestions)
	case participant.PhaseQuestionActive:
		if v.Question != nil {
			fmt.Printf("[%d/%d] %s (%.1fs left)\n",
				v.Question.QuestionIdx+1, v.TotalQuestions, v.Question.Text, v.Remaining.Seconds())
			for _, a := range v.Question.Answers {
				fmt.Printf("  %s) %s\n", a.ID, a.Text)
			}
		}
	case participant.PhaseAnswerSubmitted:
		if v.SelfResult != nil {
			fmt.Printf("answer recorded: correct=%t points=%d total=%d\n",
				v.SelfResult.IsCorrect, v.SelfResult.PointsAwarded, v.SelfResult.TotalScore)
		} else if v.Submission != nil {
			fmt.Printf("answer %s submitted in %.2fs\n", v.Submission.AnswerID, v.Submission.ResponseTime)
		}
	case participant.PhaseAnswerRevealed:
		printLeaderboard(v.Leaderboard)
	case participant.PhaseFinished:
		fmt.Println("=== final results ===")
		printLeaderboard(v.Leaderboard)
	}
}

func renderHost(v host.View) {
	switch {
	case v.ConnectionLost:
		fmt.Println("!! connection lost - use forceend to close the session if needed")
		return
	case v.Reconnecting:
		fmt.Println(".. reconnecting")
	}
	if v.Notice != "" {
		fmt.Printf("-- notice: %s\n", v.Notice)
	}

	switch v.State {
	case host.StateLobby:
		fmt.Printf("lobby: %d registered, %d online\n", len(v.Roster), v.OnlineCount)
	case host.StateActive:
		fmt.Printf("question %d/%d: %d answered\n", v.QuestionIdx+1, v.TotalQuestions, v.AnsweredCount)
	case host.StateRevealing:
		if v.Reveal != nil {
			fmt.Printf("revealed: %d/%d correct\n", v.Reveal.Stats.CorrectCount, v.Reveal.Stats.TotalResponses)
		}
		printLeaderboard(v.Leaderboard)
	case host.StateFinished:
		fmt.Println("=== session finished ===")
		printLeaderboard(v.Leaderboard)
	}
}

func printLeaderboard(entries []protocol.LeaderboardEntry) {
	for _, e := range entries {
		fmt.Printf("  #%d %s - %d\n", e.Rank, e.Nickname, e.Score)
	}
}
