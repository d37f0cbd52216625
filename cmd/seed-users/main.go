package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wolfman30/smart-care-platform/cmd/mainconfig"
	"github.com/wolfman30/smart-care-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/internal/directory"
	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

type usersFile struct {
	Users []directory.User `json:"users"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: seed-users <users-file.json>")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout).Component("seed-users")
	ctx := context.Background()

	f, err := os.Open(os.Args[1])
	if err != nil {
		logger.Error("open users file", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("load AWS config", "error", err)
		os.Exit(1)
	}
	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	st, err := bootstrap.BuildStore(cfg, pool, awsCfg, logger)
	if err != nil {
		logger.Error("build store", "error", err)
		os.Exit(1)
	}

	n, err := seed(ctx, st, f)
	if err != nil {
		logger.Error("seed failed", "error", err, "written", n)
		os.Exit(1)
	}
	logger.Info("users seeded", "count", n)
}

// seed upserts every user in r into the users collection. Existing profile fields that
// the file does not mention are left alone.
func seed(ctx context.Context, st store.Store, r io.Reader) (int, error) {
	var in usersFile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return 0, fmt.Errorf("parse users file: %w", err)
	}
	written := 0
	for _, u := range in.Users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return written, fmt.Errorf("user %d has no id", written)
		}
		fields := store.Fields{}
		put := func(key, value string) {
			if value = strings.TrimSpace(value); value != "" {
				fields[key] = value
			}
		}
		put("email", u.Email)
		put("displayName", u.DisplayName)
		put("photoURL", u.PhotoURL)
		put("specialty", u.Specialty)
		put("role", u.Role)
		put("pushEndpoint", u.PushEndpoint)
		if err := st.Set(ctx, store.CollectionUsers, id, fields); err != nil {
			return written, fmt.Errorf("write user %s: %w", id, err)
		}
		written++
	}
	return written, nil
}
