package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/writer/internal/core/domain"
	redisclient "github.com/vietddude/writer/internal/infra/redis"
	"github.com/vietddude/writer/internal/ingest"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish sample records onto the intake channel",
	Run:   runPublish,
}

var (
	publishCount int
	publishData  string
)

func init() {
	publishCmd.Flags().IntVar(&publishCount, "count", 1, "number of records to publish")
	publishCmd.Flags().StringVar(&publishData, "data", "sample cdr", "record payload")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()
	for i := 0; i < publishCount; i++ {
		rec := domain.Record{ID: uuid.NewString(), Data: publishData}
		if err := ingest.Publish(ctx, client, cfg.Ingest.Channel, rec); err != nil {
			slog.Error("Failed to publish record", "error", err)
			os.Exit(1)
		}
		fmt.Println(rec.ID)
	}
	slog.Info("Published records", "count", publishCount, "channel", cfg.Ingest.Channel)
}
