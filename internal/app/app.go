// Package app wires configuration into the chat pipeline. The streaming
// endpoint and the job consumer share the one App it builds.
package app

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/suPer8Hu/ai-stream/internal/ai"
	"github.com/suPer8Hu/ai-stream/internal/chat"
	"github.com/suPer8Hu/ai-stream/internal/config"
	"github.com/suPer8Hu/ai-stream/internal/delivery"
	"github.com/suPer8Hu/ai-stream/internal/gate"
	"github.com/suPer8Hu/ai-stream/internal/generate"
	"github.com/suPer8Hu/ai-stream/internal/metrics"
	"gorm.io/gorm"
)

type App struct {
	Repo     *chat.Repo
	Gate     *gate.Gate
	Metrics  *metrics.Collector
	Pipeline *chat.Pipeline
	ChatSvc  *chat.Service
}

// NewProviderRegistry registers one call profile per configured backend.
// Profiles without credentials are kept; the strategy table skips them.
func NewProviderRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register(ai.CallProfile{
		Key:               "ollama",
		ProviderName:      "ollama",
		Provider:          ai.NewOllamaProvider(cfg.Ollama.BaseURL),
		Model:             cfg.Ollama.Model,
		FirstTokenTimeout: cfg.Ollama.FirstTokenTimeout,
		Label:             "ollama/" + cfg.Ollama.Model,
	})
	reg.Register(ai.CallProfile{
		Key:               "openrouter",
		ProviderName:      "openrouter",
		Provider:          ai.NewOpenRouterProvider(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName),
		Model:             cfg.OpenRouter.Model,
		FirstTokenTimeout: cfg.OpenRouter.FirstTokenTimeout,
		Label:             "openrouter/" + cfg.OpenRouter.Model,
	})
	for _, p := range []struct {
		name string
		pc   config.ProviderConfig
	}{
		{"deepseek", cfg.DeepSeek},
		{"grok", cfg.Grok},
		{"openai", cfg.OpenAI},
	} {
		reg.Register(ai.CallProfile{
			Key:               p.name,
			ProviderName:      p.name,
			Provider:          ai.NewOpenAIProvider(p.name, p.pc.BaseURL, p.pc.APIKey),
			Model:             p.pc.Model,
			FirstTokenTimeout: p.pc.FirstTokenTimeout,
			Label:             p.name + "/" + p.pc.Model,
		})
	}
	return reg
}

// New builds the pipeline and chat service. cache may be nil, in which
// case history is always read from the database.
func New(cfg config.Config, gdb *gorm.DB, cache chat.HistoryCache, promReg prometheus.Registerer) *App {
	repo := chat.NewRepo(gdb)
	mc := metrics.New(promReg)

	providers := NewProviderRegistry(cfg)
	strategies := ai.NewStrategyTable(providers, cfg.Strategies, cfg.DefaultQualityMode)
	log.Printf("[App] providers=%v modes=%v default=%s", providers.Keys(), strategies.Modes(), cfg.DefaultQualityMode)
	for _, mode := range strategies.Modes() {
		if _, err := strategies.Select(mode); err != nil {
			log.Printf("[App] WARN %v", err)
		}
	}

	orch := generate.NewOrchestrator(strategies, generate.Config{
		InterTokenTimeout: cfg.InterTokenTimeout,
		TotalBudget:       cfg.TotalBudget,
		MaxAttempts:       cfg.MaxAttempts,
		FallbackText:      cfg.FallbackText,
		MeaningfulChars:   cfg.MeaningfulChars,
		Instructions: generate.Instructions{
			Priming:      cfg.PrimingInstruction,
			Ongoing:      cfg.OngoingInstruction,
			PrimingTurns: cfg.PrimingTurns,
		},
	}, mc)

	g := gate.New()
	th := delivery.NewThrottler(cfg.FirstFlushChars, cfg.FlushInterval)
	pipeline := chat.NewPipeline(g, orch, th, mc, cfg.Placeholder)

	roles := chat.StaticRoles{
		chat.DefaultRoleID: {SystemPrompt: cfg.DefaultSystemPrompt},
	}

	return &App{
		Repo:     repo,
		Gate:     g,
		Metrics:  mc,
		Pipeline: pipeline,
		ChatSvc:  chat.NewService(repo, cache, roles, pipeline, cfg.ChatContextWindowSize),
	}
}
