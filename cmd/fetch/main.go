package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Amund211/flashfetch/internal/adapters/fetcher"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/resource"
	"github.com/spf13/cobra"
)

const defaultBaseURL = "https://jsonplaceholder.typicode.com"

var errLastFetchFailed = errors.New("last fetch failed")

type fetchOptions struct {
	baseURL  string
	refetch  int
	interval time.Duration
	timeout  time.Duration
	verbose  bool
}

type stateLine struct {
	Key       string              `json:"key"`
	Data      json.RawMessage     `json:"data"`
	IsLoading bool                `json:"isLoading"`
	IsError   bool                `json:"isError"`
	Error     *resource.ErrorInfo `json:"error"`
}

func newRootCmd() *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch <path>",
		Short: "Fetch a JSON resource and print every state it goes through",
		Long: `Fetch a JSON resource from the upstream and print each state of the
loader as one JSON object per line.

Examples:
  fetch /users
  fetch /posts/1 --refetch 3 --interval 2s
  fetch /todos --base-url http://localhost:3000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts, http.DefaultClient)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "base-url", defaultBaseURL, "Base url of the upstream")
	cmd.Flags().IntVar(&opts.refetch, "refetch", 0, "Number of times to refetch after the first fetch")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Delay between refetches")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for the whole run")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	return cmd
}

func runFetch(ctx context.Context, stdout io.Writer, stderr io.Writer, path string, opts fetchOptions, httpClient fetcher.HttpClient) error {
	if opts.refetch < 0 {
		return fmt.Errorf("--refetch must not be negative, got %d", opts.refetch)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	ctx = logging.AddToContext(ctx, logger)

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	upstream, err := fetcher.New(httpClient, opts.baseURL, time.Now, time.After)
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	var writeMu sync.Mutex
	var writeErr error
	encoder := json.NewEncoder(stdout)
	printState := func(state resource.State[json.RawMessage]) {
		writeMu.Lock()
		defer writeMu.Unlock()

		err := encoder.Encode(stateLine{
			Key:       state.Key,
			Data:      state.Data,
			IsLoading: state.Loading,
			IsError:   state.Err != nil,
			Error:     state.Err,
		})
		if err != nil && writeErr == nil {
			writeErr = err
		}
	}

	loader := resource.New(ctx, path, fetcher.Retriever[json.RawMessage](upstream), resource.WithObserver(printState))

	state, err := loader.Await(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for %s: %w", path, err)
	}

	for range opts.refetch {
		select {
		case <-time.After(opts.interval):
		case <-ctx.Done():
			return fmt.Errorf("interrupted while waiting to refetch: %w", ctx.Err())
		}

		result := loader.Refetch(ctx)
		if result.Superseded {
			logger.WarnContext(ctx, "Refetch was superseded")
		}
		state = loader.State()
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("failed to write state: %w", writeErr)
	}

	if state.Err != nil {
		return fmt.Errorf("%w: %s", errLastFetchFailed, state.Err.Message)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
