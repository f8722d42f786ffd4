package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status [record_id...]",
	Short: "Show record counts per status, or the status of given records",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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
	repo := postgres.NewRecordRepo(db)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	defer func() {
		_ = w.Flush()
	}()

	if len(args) == 0 {
		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			slog.Error("Failed to count records", "error", err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(w, "STATUS\tRECORDS")
		for _, status := range []domain.RecordStatus{
			domain.RecordStatusCreated,
			domain.RecordStatusProcessed,
			domain.RecordStatusInvalid,
			domain.RecordStatusPermanentlyFailed,
		} {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
		}
		return
	}

	records, err := repo.GetMany(ctx, args)
	if err != nil {
		slog.Error("Failed to query records", "error", err)
		os.Exit(1)
	}
	_, _ = fmt.Fprintln(w, "RECORD\tSTATUS\tFAILS")
	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", rec.ID, rec.Status, rec.FailCount)
	}
}
