package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/writer/internal/infra/storage/postgres"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [record_id...]",
	Short: "Reset permanently failed records so the next batch submits them again",
	Run:   runRequeue,
}

var requeueAll bool

func init() {
	requeueCmd.Flags().BoolVar(&requeueAll, "all", false, "requeue every permanently failed record")
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	if len(args) == 0 && !requeueAll {
		fmt.Println("Pass record ids or --all")
		os.Exit(1)
	}
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	n, err := postgres.NewRecordRepo(db).Requeue(ctx, args)
	if err != nil {
		slog.Error("Failed to requeue records", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Requeued %d records\n", n)
}
