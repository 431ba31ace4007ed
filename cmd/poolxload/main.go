// poolxload is a synthetic load generator for exercising a worker pool and
// printing its stats, health report and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seasbee/go-logx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	poolx "github.com/SeaSBee/go-poolx"
	poolprom "github.com/SeaSBee/go-poolx/observability/prometheus"
)

var rootCmd = &cobra.Command{
	Use:   "poolxload",
	Short: "Generate synthetic load against a worker pool",
	Long: `poolxload starts a worker pool, pushes a synthetic workload through it
and prints the resulting stats and health report as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("workers", 0, "worker count (0 = auto-detect)")
	flags.Int("queue-size", poolx.DefaultQueueSize, "task queue capacity")
	flags.Duration("task-duration", 5*time.Millisecond, "simulated duration per task")
	flags.Float64("fail-rate", 0.0, "fraction of tasks that fail, in [0,1]")
	flags.String("metrics-addr", "", "expose Prometheus metrics on this address (empty = disabled)")

	viper.SetEnvPrefix("POOLXLOAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		logx.Error("failed to bind flags", logx.ErrorField(err))
		os.Exit(1)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newBatchCmd())
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit individual tasks and wait for completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := cmd.Flags().GetInt("tasks")
			if err != nil {
				return err
			}
			return runIndividual(tasks)
		},
	}
	cmd.Flags().Int("tasks", 1000, "number of tasks to submit")
	return cmd
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit one batch through the dispatcher and wait for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := cmd.Flags().GetInt("items")
			if err != nil {
				return err
			}
			chunkSize, err := cmd.Flags().GetInt("chunk-size")
			if err != nil {
				return err
			}
			return runBatch(items, chunkSize)
		},
	}
	cmd.Flags().Int("items", 10000, "number of items in the batch")
	cmd.Flags().Int("chunk-size", poolx.DefaultChunkSize, "static chunk size")
	return cmd
}

func buildPool() (*poolx.Manager, error) {
	config := poolx.DefaultConfig()
	if workers := viper.GetInt("workers"); workers > 0 {
		config.MaxWorkers = workers
	}
	config.QueueSize = viper.GetInt("queue-size")
	return poolx.New(config)
}

// startMetrics exposes the snapshot poller over HTTP when a metrics address
// is configured. Returns a stop function.
func startMetrics(pool *poolx.Manager) (func(), error) {
	addr := viper.GetString("metrics-addr")
	if addr == "" {
		return func() {}, nil
	}

	poller, err := poolprom.NewSnapshotPoller("poolx", nil, time.Second)
	if err != nil {
		return nil, err
	}
	poller.AddPool("load", pool)
	poller.Start(context.Background())

	server := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("metrics server failed", logx.ErrorField(err))
		}
	}()
	logx.Info("metrics exposed", logx.String("addr", addr))

	return func() {
		poller.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}

func syntheticHandler() poolx.Handler {
	duration := viper.GetDuration("task-duration")
	failRate := viper.GetFloat64("fail-rate")
	return func(payload interface{}) (interface{}, error) {
		time.Sleep(duration)
		if failRate > 0 && rand.Float64() < failRate {
			return nil, fmt.Errorf("synthetic failure for item %v", payload)
		}
		return payload, nil
	}
}

func runIndividual(taskCount int) error {
	pool, err := buildPool()
	if err != nil {
		return err
	}
	pool.Start()
	defer pool.Stop(poolx.DefaultShutdownTimeout)

	stopMetrics, err := startMetrics(pool)
	if err != nil {
		return err
	}
	defer stopMetrics()

	handler := syntheticHandler()
	accepted := 0
	start := time.Now()
	for i := 0; i < taskCount; i++ {
		task := poolx.NewTask("load_test", i, handler)
		if pool.SubmitWithRetry(task, poolx.PriorityNormal, poolx.DefaultPolicy()) {
			accepted++
		}
	}

	if !pool.WaitForCompletion(0) {
		logx.Error("workload did not complete")
	}
	elapsed := time.Since(start)

	outcomes := pool.GetResults(time.Second)
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}

	logx.Info("workload finished",
		logx.Int("submitted", accepted),
		logx.Int("rejected", taskCount-accepted),
		logx.Int("failed", failed),
		logx.String("elapsed", elapsed.String()))

	return printReport(pool)
}

func runBatch(items, chunkSize int) error {
	pool, err := buildPool()
	if err != nil {
		return err
	}
	pool.Start()
	defer pool.Stop(poolx.DefaultShutdownTimeout)

	stopMetrics, err := startMetrics(pool)
	if err != nil {
		return err
	}
	defer stopMetrics()

	dispatcherConfig := poolx.DefaultDispatcherConfig()
	dispatcherConfig.ChunkSize = chunkSize
	dispatcher, err := poolx.NewDispatcher(pool, dispatcherConfig)
	if err != nil {
		return err
	}

	payload := make([]interface{}, items)
	for i := range payload {
		payload[i] = i
	}

	taskDuration := viper.GetDuration("task-duration")
	batchID, err := dispatcher.SubmitBatch(payload, func(chunk interface{}) (interface{}, error) {
		itemsInChunk := len(chunk.([]interface{}))
		time.Sleep(taskDuration)
		return itemsInChunk, nil
	}, poolx.PriorityNormal)
	if err != nil {
		return err
	}

	for {
		status, err := dispatcher.GetBatchResults(batchID, time.Second)
		if err != nil {
			return err
		}
		if status.Status == "completed" {
			logx.Info("batch finished",
				logx.String("batch_id", batchID),
				logx.Int("chunks", status.Result.Chunks),
				logx.Int("items", status.Result.TotalItems),
				logx.String("duration", status.Result.Duration.String()))
			break
		}
		logx.Info("batch in progress",
			logx.String("batch_id", batchID),
			logx.Float64("progress", status.Progress))
	}

	return printReport(pool)
}

func printReport(pool *poolx.Manager) error {
	report := struct {
		Stats  poolx.Stats        `json:"stats"`
		Health poolx.HealthReport `json:"health"`
	}{
		Stats:  pool.GetStats(),
		Health: pool.HealthCheck(),
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("command failed", logx.ErrorField(err))
		os.Exit(1)
	}
}
