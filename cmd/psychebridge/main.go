package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psychebridge/psychebridge/internal/ai"
	"github.com/psychebridge/psychebridge/internal/engine"
	"github.com/psychebridge/psychebridge/internal/handler"
	appI18n "github.com/psychebridge/psychebridge/internal/i18n"
	"github.com/psychebridge/psychebridge/internal/model"
	"github.com/psychebridge/psychebridge/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "psychebridge",
		Short: "Clinical training platform with AI-simulated patients",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `psychebridge --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP training server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "psychebridge.db", "SQLite database path")
	f.StringSliceP("courses", "c", []string{"data/courses.json"}, "Paths to course catalog JSON files (repeatable)")
	f.StringSliceP("users", "u", []string{"data/users.json"}, "Paths to user roster JSON files (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "UI language (en, es)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export training results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "psychebridge.db", "SQLite database path")
	f.String("program", "", "Training program name for output (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("program")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PSYCHEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("psychebridge")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/psychebridge")
	v.AddConfigPath("/etc/psychebridge")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed the course catalog and user roster.
	if err := seedCatalog(db, v.GetStringSlice("courses"), v.GetStringSlice("users")); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	catalog, err := db.LoadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if len(catalog.Users) == 0 {
		return fmt.Errorf("no users in catalog: provide at least one roster file via --users")
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create AI client.
	aiClient := ai.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := aiClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	eng, err := engine.New(catalog, aiClient, db)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	appCfg := model.AppConfig{
		SecureCookies: v.GetBool("secure-cookies"),
	}

	h, err := handler.New(eng, db, catalog, appCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"courses", len(catalog.Courses),
		"users", len(catalog.Users),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	catalog, err := db.LoadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	_, sessions, _, err := db.LoadState()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	export := model.BuildExport(v.GetString("program"), catalog, sessions)

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// seedCatalog imports course and user JSON files, skipping files whose
// content hash matches a previous import.
func seedCatalog(db *store.Store, coursePaths, userPaths []string) error {
	for _, path := range coursePaths {
		data, skip, err := readSeedFile(db, path)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		var courses []model.Course
		if err := json.Unmarshal(data, &courses); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, c := range courses {
			if err := db.UpsertCourse(c); err != nil {
				return fmt.Errorf("upsert course from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(path, sha256sum(data)); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported courses", "path", path, "count", len(courses))
	}

	for _, path := range userPaths {
		data, skip, err := readSeedFile(db, path)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		var users []model.User
		if err := json.Unmarshal(data, &users); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, u := range users {
			if err := db.UpsertUser(u); err != nil {
				return fmt.Errorf("upsert user from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(path, sha256sum(data)); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported users", "path", path, "count", len(users))
	}

	return nil
}

func readSeedFile(db *store.Store, path string) (data []byte, skip bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	storedHash, err := db.GetImportedFileHash(path)
	if err != nil {
		return nil, false, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == sha256sum(data) {
		slog.Info("seed file unchanged, skipping", "path", path)
		return nil, true, nil
	}

	return data, false, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
