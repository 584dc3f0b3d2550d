package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/letsssgooo/quizTaker/internal/attempt"
	"github.com/letsssgooo/quizTaker/internal/client"
	"github.com/letsssgooo/quizTaker/internal/lib/slogcustom"
	"github.com/letsssgooo/quizTaker/internal/session"
	"github.com/letsssgooo/quizTaker/internal/terminal"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	log := setupLogger()
	slog.SetDefault(log)
	slog.Info("starting quiz taker...")

	flagBaseURL := pflag.String("base-url", envOr("QUIZ_API_BASE_URL", "http://localhost:3004"), "base URL of the platform API")
	flagQuizID := pflag.String("quiz-id", "", "ID of the quiz to take")
	flagEmail := pflag.String("email", "", "student email (taken from the saved session if empty)")
	flagSessionFile := pflag.String("session-file", defaultSessionPath(), "path to the saved session file")
	flagLogin := pflag.Bool("login", false, "log in and save the session before taking the quiz")
	flagPassword := pflag.String("password", "", "password for --login")
	pflag.Parse()

	if *flagQuizID == "" {
		slog.Error("quiz id is required, pass --quiz-id")
		os.Exit(1)
	}

	ctx := context.Background()
	store := session.NewStore(*flagSessionFile)

	sess, err := store.Load()
	if err != nil {
		slog.Warn("saved session is unreadable, continuing without it", "err", err)
	}

	api := client.NewHTTPClient(*flagBaseURL)

	if *flagLogin {
		sess, err = login(ctx, api, store, *flagEmail, *flagPassword)
		if err != nil {
			slog.Error("login failed", "err", err)
			os.Exit(1)
		}
	}

	email := *flagEmail
	if sess != nil {
		api.SetSession(sess.Token, sess.SessionID)

		if email == "" {
			email = sess.Email
		}
	}

	controller := attempt.NewEngine(api, *flagQuizID)
	ui := terminal.New(controller, os.Stdin, os.Stdout)

	err = ui.Run(ctx, email)

	// дожидаемся автосохранений в полёте перед любым выходом
	controller.Flush()

	if err != nil {
		slog.Error("quiz session ended with error", "err", err)
		os.Exit(1)
	}
}

// login выполняет вход на платформе и сохраняет сессию на диск.
func login(ctx context.Context, api *client.HTTPClient, store *session.Store, email, password string) (*session.Session, error) {
	token, user, err := api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	sess := session.New(token)
	if sess.Email == "" {
		sess.Email = user.Email
	}

	if sess.Role == "" {
		sess.Role = user.Role
	}

	if err = store.Save(sess); err != nil {
		return nil, err
	}

	slog.Info("logged in", "email", sess.Email, "role", sess.Role)

	return sess, nil
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("QUIZ_DEBUG") != "" {
		level = slog.LevelDebug
	}

	return slog.New(slogcustom.NewCustomHandler(os.Stdout, level))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quiztaker-session.json"
	}

	return filepath.Join(home, ".quiztaker", "session.json")
}
