// mnemos server - ontology-aware conversational memory engine over a
// business database.
package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/threadline-ai/mnemos/pkg/alias"
	"github.com/threadline-ai/mnemos/pkg/api"
	"github.com/threadline-ai/mnemos/pkg/config"
	"github.com/threadline-ai/mnemos/pkg/database"
	"github.com/threadline-ai/mnemos/pkg/disambig"
	"github.com/threadline-ai/mnemos/pkg/embedding"
	"github.com/threadline-ai/mnemos/pkg/entity"
	"github.com/threadline-ai/mnemos/pkg/llm"
	"github.com/threadline-ai/mnemos/pkg/masking"
	"github.com/threadline-ai/mnemos/pkg/memory"
	"github.com/threadline-ai/mnemos/pkg/pipeline"
	"github.com/threadline-ai/mnemos/pkg/retrieval"
	"github.com/threadline-ai/mnemos/pkg/store/postgres"
	"github.com/threadline-ai/mnemos/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, continuing with existing environment")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	log.Printf("Starting %s", version.Full())

	ctx := context.Background()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		fail("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database, migrations applied")

	st := postgres.New(dbClient.Pool())

	embedder := embedding.NewClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	completer := llm.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel)

	masker := masking.NewService()
	aliases := alias.NewService(st, embedder)
	extractor := entity.NewExtractor(st, aliases)
	disambiguator := disambig.NewService(st, aliases)
	memories := memory.NewService(st, st)
	classifier := memory.NewClassifier(completer, st)
	consolidator := memory.NewConsolidator(memories, st, embedder)
	retriever := retrieval.NewService(st, memories, extractor)

	pl := pipeline.New(st, embedder, completer, masker, extractor,
		disambiguator, retriever, memories, classifier, consolidator)

	server := api.NewServer(st, dbClient, pl, memories, consolidator)

	log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
	if err := server.Run(cfg.HTTPPort); err != nil {
		log.Printf("Server exited with error: %v", err)
		os.Exit(2)
	}
}

// fail logs and exits with the service error code.
func fail(format string, args ...any) {
	log.Printf(format, args...)
	os.Exit(2)
}
