package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/authclient"
	"github.com/screenlog/screenlog-client/internal/service/movieservice"
	"github.com/screenlog/screenlog-client/internal/storage"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "screenlog").Logger()

	// Pretty logging for local dev (only when explicitly set to "dev")
	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	baseURL := env("SCREENLOG_API_URL", "http://localhost:8080")

	dbPath := env("SCREENLOG_DB", "")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("cannot resolve home directory, set SCREENLOG_DB")
		}
		dbPath = filepath.Join(home, ".screenlog", "screenlog.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("cannot create storage directory")
	}

	store, err := storage.OpenSQLite(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("failed to open token storage")
	}

	client := authclient.New(authclient.Config{
		BaseURL: baseURL,
		Storage: store,
		PublicRoutes: []string{
			"/movies",
			"/movies/*",
		},
		OnSessionExpired: func() {
			fmt.Fprintln(os.Stderr, "session expired, run 'screenlog login <username>'")
		},
	})

	if err := client.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("session restore failed, continuing anonymous")
	}

	api := client.Transport()
	movies := movieservice.NewMovieService(api)
	watchlist := movieservice.NewWatchlistService(api)
	ratings := movieservice.NewRatingService(api)
	recs := movieservice.NewRecommendationService(api)

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "login":
		if len(os.Args) < 3 {
			usage()
		}
		password := env("SCREENLOG_PASSWORD", "")
		if password == "" {
			fmt.Fprint(os.Stderr, "password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				log.Fatal().Err(err).Msg("failed to read password")
			}
			password = strings.TrimSpace(line)
		}
		profile, err := client.Login(ctx, authclient.Credentials{
			Username: os.Args[2],
			Password: password,
			TOTP:     env("SCREENLOG_TOTP", ""),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("login failed")
		}
		fmt.Printf("logged in as %s\n", profile.Username)

	case "logout":
		if err := client.Logout(ctx); err != nil {
			log.Fatal().Err(err).Msg("logout failed")
		}
		fmt.Println("logged out")

	case "whoami":
		profile := client.CurrentProfile()
		if profile == nil {
			fmt.Println("not logged in")
			return
		}
		fmt.Printf("%s (%s)\n", profile.Username, profile.ID)

	case "movies":
		list, err := movies.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list movies")
		}
		for _, m := range list {
			fmt.Printf("%s\t%s (%d)\tavg %.1f\n", m.ID, m.Title, m.Year, m.AverageRating)
		}

	case "watchlist":
		if err := watchlist.Refresh(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to load watchlist")
		}
		switch {
		case len(os.Args) == 2:
			for _, id := range watchlist.Items() {
				fmt.Println(id)
			}
		case os.Args[2] == "add" && len(os.Args) == 4:
			if err := watchlist.Add(ctx, os.Args[3]); err != nil {
				log.Fatal().Err(err).Msg("add failed and was rolled back")
			}
		case os.Args[2] == "rm" && len(os.Args) == 4:
			if err := watchlist.Remove(ctx, os.Args[3]); err != nil {
				log.Fatal().Err(err).Msg("remove failed and was rolled back")
			}
		default:
			usage()
		}

	case "rate":
		if len(os.Args) < 4 {
			usage()
		}
		score, err := strconv.Atoi(os.Args[3])
		if err != nil {
			usage()
		}
		if err := ratings.Rate(ctx, os.Args[2], score); err != nil {
			log.Fatal().Err(err).Msg("rating failed and was rolled back")
		}
		fmt.Printf("rated %s: %d (avg now %.1f)\n", os.Args[2], score, ratings.Average(os.Args[2]))

	case "recs":
		list, err := recs.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to fetch recommendations")
		}
		for _, r := range list {
			fmt.Printf("%.2f\t%s\n", r.Score, r.Movie.Title)
		}

	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  screenlog login <username>
  screenlog logout
  screenlog whoami
  screenlog movies
  screenlog watchlist [add <movieId> | rm <movieId>]
  screenlog rate <movieId> <score>
  screenlog recs`)
	os.Exit(2)
}
