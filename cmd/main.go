package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"groupbuy-bot/handler"
	"groupbuy-bot/internal/bridge"
	"groupbuy-bot/internal/engine"
	"groupbuy-bot/internal/integrations/paramstore"
	"groupbuy-bot/internal/integrations/telegram"
	"groupbuy-bot/internal/repository"
)

func main() {
	ctx := context.Background()
	log := slog.Default()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	offersTable := mustEnv("OFFERS_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	conversationName := envOr("CONVERSATION_NAME", "newbuy")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	stateClient, err := repository.New(dynamoClient, stateTable, log)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	offerStore, err := repository.NewOfferStore(dynamoClient, offersTable)
	if err != nil {
		slog.Error("failed to create offer store", "err", err)
		os.Exit(1)
	}

	telegramClient, err := telegram.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create Telegram client", "err", err)
		os.Exit(1)
	}

	// ---- Engine ----
	handoffBridge := bridge.New(stateClient, log)
	eng, err := engine.New(stateClient, telegramClient, offerStore, handoffBridge, conversationName, log)
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(eng)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
