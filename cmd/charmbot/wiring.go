package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/nugget/charmbot/internal/agent"
	"github.com/nugget/charmbot/internal/config"
	"github.com/nugget/charmbot/internal/email"
	"github.com/nugget/charmbot/internal/httpkit"
	"github.com/nugget/charmbot/internal/knowledge"
	"github.com/nugget/charmbot/internal/llm"
	"github.com/nugget/charmbot/internal/orders"
	"github.com/nugget/charmbot/internal/prompts"
	"github.com/nugget/charmbot/internal/tools"
)

// orderBackend is an order store the CLI can seed, probe, and close.
type orderBackend interface {
	orders.Store
	orders.Seeder
	Ping(ctx context.Context) error
	Close() error
}

// app holds everything a turn needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	ollama *llm.OllamaClient
	store  orderBackend
	index  *knowledge.Index
	loop   *agent.Loop

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
}

// newApp opens the order store and knowledge index and assembles the
// agent loop. The caller must Close the result.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	httpClient := httpkit.NewClient(httpkit.WithTimeout(cfg.Agent.CallTimeout))

	ollama, err := llm.NewOllamaClient(cfg.Models.OllamaURL, httpClient, logger)
	if err != nil {
		return nil, err
	}
	a.ollama = ollama
	llmClient := createLLMClient(cfg, logger, ollama, httpClient)

	store, err := openOrderStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	reg, err := newRegistry(cfg, store, newSender(cfg, logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	retriever, err := a.openRetriever(ctx, httpClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := loadPolicy(cfg.Agent.PolicyFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.loop = agent.NewLoop(llmClient, reg, retriever, agent.Config{
		Model:            cfg.Models.Default,
		Policy:           policy,
		MaxIterations:    cfg.Agent.MaxIterations,
		CallTimeout:      cfg.Agent.CallTimeout,
		HistoryTurns:     cfg.Agent.HistoryTurns,
		RequireRetrieval: cfg.Agent.RequireRetrieval,
		FallbackReply:    cfg.Agent.FallbackReply,
	}, logger)
	return a, nil
}

// createLLMClient builds a multi-provider client. Models not mapped in
// config fall through to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger, ollama *llm.OllamaClient, httpClient *http.Client) llm.Client {
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, httpClient, logger))
		logger.Info("Anthropic provider configured")
	}
	if cfg.OpenAI.Configured() {
		multi.AddProvider("openai", llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, httpClient, logger))
		logger.Info("OpenAI-compatible provider configured", "base_url", cfg.OpenAI.BaseURL)
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default))
	return multi
}

// openOrderStore connects to the configured order database.
func openOrderStore(ctx context.Context, cfg *config.Config) (orderBackend, error) {
	switch cfg.Orders.Driver {
	case "postgres":
		store, err := orders.NewPostgresStore(ctx, cfg.Orders.DSN)
		if err != nil {
			return nil, fmt.Errorf("open order store: %w", err)
		}
		return store, nil
	default:
		db, err := openSQLite(cfg.Orders.Path)
		if err != nil {
			return nil, fmt.Errorf("open order store: %w", err)
		}
		store, err := orders.NewSQLStore(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open order store: %w", err)
		}
		return store, nil
	}
}

func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	return db, nil
}

// newSender picks SMTP delivery when configured, otherwise a sender that
// only logs.
func newSender(cfg *config.Config, logger *slog.Logger) email.Sender {
	switch {
	case cfg.Email.DryRun:
		logger.Info("email dry run enabled, messages are logged only")
		return email.NewLogSender(logger)
	case !cfg.Email.Configured():
		logger.Warn("email.smtp not configured, voucher emails are logged only")
		return email.NewLogSender(logger)
	default:
		return email.NewSMTPSender(cfg.Email, logger)
	}
}

func newRegistry(cfg *config.Config, store orders.Store, sender email.Sender) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := tools.RegisterOrderTools(reg, store); err != nil {
		return nil, err
	}
	err := tools.RegisterEmailTools(reg, sender, tools.VoucherConfig{
		From:   cfg.Email.From,
		Amount: cfg.Email.VoucherAmount,
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) openIndex() (*knowledge.Index, error) {
	if a.index != nil {
		return a.index, nil
	}
	db, err := openSQLite(a.cfg.Knowledge.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	idx, err := knowledge.NewIndex(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	a.index = idx
	a.closers = append(a.closers, idx.Close)
	return idx, nil
}

func (a *app) newEmbedder(httpClient *http.Client) (*knowledge.OllamaEmbedder, error) {
	return knowledge.NewOllamaEmbedder(a.cfg.Embeddings.BaseURL, a.cfg.Embeddings.Model, httpClient)
}

// openRetriever returns nil when the index is empty, so turns skip the
// embedding call until "charmbot ingest" has run.
func (a *app) openRetriever(ctx context.Context, httpClient *http.Client) (agent.Retriever, error) {
	idx, err := a.openIndex()
	if err != nil {
		return nil, err
	}
	n, err := idx.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		a.logger.Warn("knowledge index is empty, answering without rulebook context",
			"index", a.cfg.Knowledge.IndexPath, "hint", "run charmbot ingest")
		return nil, nil
	}
	emb, err := a.newEmbedder(httpClient)
	if err != nil {
		return nil, err
	}
	a.logger.Info("knowledge index loaded", "chunks", n)
	return knowledge.NewAdapter(knowledge.NewRetriever(emb, idx)), nil
}

// loadPolicy returns the built-in policy unless path names a file.
func loadPolicy(path string) (string, error) {
	if path == "" {
		return prompts.CharmbotPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("policy file is empty")
	}
	return string(data), nil
}
