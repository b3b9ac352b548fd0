package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/llm/openai"
	"github.com/wardenhq/warden/internal/mcp"
	"github.com/wardenhq/warden/internal/store"
)

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var token string
	var prompt string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one agent run against the tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				return fmt.Errorf("--token is required")
			}
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			cfg := config.FromEnv()
			if cfg.LLMProvider != "openai" {
				return fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sqlStore, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return err
			}

			tokens := auth.NewTokens(cfg.JWTSecret, time.Duration(cfg.TokenTTLHrs)*time.Hour)
			userID, err := tokens.Decode(token)
			if err != nil {
				return err
			}

			messages := []llm.Message{{Role: "user", Content: prompt}}
			profile := agent.RouteProfile(messages)
			run, err := sqlStore.CreateAgentRun(ctx, userID, profile.Key)
			if err != nil {
				return err
			}

			backend := mcp.NewClient(mcp.Config{
				Endpoint: cfg.MCPEndpoint,
				Timeout:  time.Duration(cfg.MCPTimeoutSec) * time.Second,
			}, logger)
			if err := backend.Connect(ctx); err != nil {
				finishRun(ctx, sqlStore, logger, run.ID, store.RunStatusFailed, err.Error(), 0)
				return err
			}
			defer backend.Close()

			llmTimeout := time.Duration(cfg.LLMTimeoutSec) * time.Second
			model := openai.New(openai.Config{
				APIKey:  cfg.LLMAPIKey,
				BaseURL: cfg.LLMBaseURL,
				Model:   cfg.LLMModel,
				Timeout: llmTimeout,
			}, logger)

			var reviewer llm.Client
			if cfg.ReviewerEnabled {
				reviewerModel := cfg.LLMReviewerModel
				if reviewerModel == "" {
					reviewerModel = cfg.LLMModel
				}
				reviewer = openai.New(openai.Config{
					APIKey:  cfg.LLMAPIKey,
					BaseURL: cfg.LLMBaseURL,
					Model:   reviewerModel,
					Timeout: llmTimeout,
				}, logger)
			}

			runner := agent.NewRunner(backend, model, reviewer, agent.Config{MaxSteps: cfg.AgentMaxSteps}, logger)
			result, runErr := runner.Run(ctx, agent.RunInput{
				Token:    token,
				RunID:    run.ID,
				Messages: messages,
			})

			if result.Usage.TotalTokens > 0 {
				usageErr := sqlStore.RecordTokenUsage(ctx, store.TokenUsage{
					RunID:        run.ID,
					Model:        model.Model(),
					InputTokens:  result.Usage.InputTokens,
					OutputTokens: result.Usage.OutputTokens,
					TotalTokens:  result.Usage.TotalTokens,
				})
				if usageErr != nil {
					logger.Warn("token usage write failed", "run_id", run.ID, "error", usageErr)
				}
			}

			if runErr != nil {
				finishRun(ctx, sqlStore, logger, run.ID, store.RunStatusFailed, runErr.Error(), result.Steps)
				return runErr
			}
			finishRun(ctx, sqlStore, logger, run.ID, store.RunStatusCompleted, result.Text, result.Steps)
			cmd.Println(result.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token identifying the acting user")
	cmd.Flags().StringVar(&prompt, "prompt", "", "user prompt for this run")
	return cmd
}

func finishRun(ctx context.Context, sqlStore *store.Store, logger *slog.Logger, runID, status, finalText string, steps int) {
	if err := sqlStore.FinishAgentRun(ctx, runID, status, finalText, steps); err != nil {
		logger.Warn("agent run finish write failed", "run_id", runID, "error", err)
	}
}
