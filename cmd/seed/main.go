// cmd/seed/main.go
//
// Seeds the development stack with the demo members and books through the
// public HTTP APIs, so the notification path is exercised end to end.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"libris/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()

	registerMember(cfg.MembershipURL, map[string]any{
		"name":       "Anna Librarian",
		"email":      "anna@library.com",
		"password":   "LIBRARIAN",
		"role":       "librarian",
		"birth_date": "2024-01-01T00:00:00Z",
		"phone":      "8(800)555-35-35",
	})
	registerMember(cfg.MembershipURL, map[string]any{
		"name":       "John Doe",
		"email":      "johndoe@example.com",
		"password":   "USER_JD",
		"role":       "member",
		"birth_date": "2003-08-19T00:00:00Z",
		"phone":      "8(999)696-96-96",
		"address":    "Obraztsova street, 9",
	})

	addBook(cfg.CatalogURL, map[string]any{
		"title":            "Effective Java",
		"author":           "Joshua Bloch",
		"publisher":        "Addison-Wesley",
		"publication_year": 2018,
		"genre":            "Programming",
		"description":      "A must-read for Java developers",
		"total_copies":     5,
	})
	addBook(cfg.CatalogURL, map[string]any{
		"title":            "Clean Code",
		"author":           "Robert C. Martin",
		"publisher":        "Prentice Hall",
		"publication_year": 2008,
		"genre":            "Programming",
		"description":      "Guide to writing clean, maintainable code",
		"total_copies":     4,
	})

	log.Info().Msg("seed complete")
}

func registerMember(baseURL string, payload map[string]any) {
	post(fmt.Sprintf("%s/members/register", baseURL), payload, payload["name"].(string))
}

func addBook(baseURL string, payload map[string]any) {
	post(fmt.Sprintf("%s/books", baseURL), payload, payload["title"].(string))
}

func post(endpoint string, payload map[string]any, label string) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatal().Err(err).Str("entity", label).Msg("marshal payload")
	}

	resp, err := http.Post(endpoint, "application/json", bytes.NewBuffer(body))
	if err != nil {
		log.Fatal().Err(err).Str("entity", label).Msg("seed request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		log.Info().Str("entity", label).Msg("seeded")
	case http.StatusConflict:
		log.Info().Str("entity", label).Msg("already present, skipping")
	default:
		log.Fatal().Str("entity", label).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("seed rejected")
	}
}
