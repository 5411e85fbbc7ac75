// Package main generates an API key for a submitter and stores its hash.
// The raw key is printed once and never recoverable afterwards.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rbalaji/peoplecounter/internal/config"
	"github.com/rbalaji/peoplecounter/internal/store"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

func main() {
	submitter := flag.String("submitter", "", "identity the key authenticates (required)")
	name := flag.String("name", "default", "human-readable key name")
	flag.Parse()

	if err := run(*submitter, *name); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(submitter, name string) error {
	if submitter == "" {
		return fmt.Errorf("-submitter is required")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	rawKey, err := generateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: databaseURL})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		Submitter: submitter,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.NewPostgresStore(pool).CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	fmt.Printf("API key for %q (save it now, it is not stored):\n%s\n", submitter, rawKey)
	return nil
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pc_" + hex.EncodeToString(buf), nil
}
