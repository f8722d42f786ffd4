package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Start a batch that submits every pending record",
	Run:   runBatch,
}

var (
	batchServer  string
	batchID      string
	batchLimit   int
	batchWait    bool
	batchTimeout time.Duration
)

func init() {
	batchCmd.Flags().StringVar(&batchServer, "server", "", "writer API address (default http://localhost:<server.port>)")
	batchCmd.Flags().StringVar(&batchID, "id", "", "batch id (default random)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "maximum records to pick up (0 = all)")
	batchCmd.Flags().BoolVar(&batchWait, "wait", false, "wait for the batch to finish")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "how long --wait waits")
	rootCmd.AddCommand(batchCmd)
}

type startedInstance struct {
	InstanceID string `json:"instance_id"`
}

var errNotFinished = errors.New("batch still running")

func runBatch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if batchServer == "" {
		batchServer = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	ctx := context.Background()
	body, _ := json.Marshal(map[string]any{"id": batchID, "limit": batchLimit})

	var started startedInstance
	if err := callAPI(ctx, http.MethodPost, batchServer+"/batches", body, http.StatusAccepted, &started); err != nil {
		slog.Error("Failed to start batch", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Started batch %s\n", started.InstanceID)

	if !batchWait {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	var inst durable.Instance
	err := retry.Do(waitCtx, retry.NewConstant(2*time.Second), func(ctx context.Context) error {
		if err := callAPI(ctx, http.MethodGet, batchServer+"/instances/"+started.InstanceID, nil, http.StatusOK, &inst); err != nil {
			return retry.RetryableError(err)
		}
		if !inst.State.Terminal() {
			return retry.RetryableError(errNotFinished)
		}
		return nil
	})
	if err != nil {
		slog.Error("Batch did not finish", "instance_id", started.InstanceID, "error", err)
		os.Exit(1)
	}

	out, err := durable.Output[domain.BatchOutput](&inst)
	if err != nil {
		slog.Error("Batch failed", "instance_id", inst.ID, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Batch %s finished: succeeded=%t records=%d failed=%d\n",
		inst.ID, out.Succeeded, len(out.Results), len(out.Failed))
}

func callAPI(ctx context.Context, method, url string, body []byte, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: unexpected status %d", method, url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
