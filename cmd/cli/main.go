package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"terraguard/internal/alert"
	"terraguard/internal/config"
	"terraguard/internal/dataset"
	"terraguard/internal/model"
	"terraguard/internal/simulation"
	"terraguard/internal/storage"
)

var (
	serverURL string
	csvPath   string
	mode      string
	limit     int

	smokeDuration time.Duration
	smokeSpeed    float64
	smokeDB       string
	smokeLimit    int
)

func main() {
	root := &cobra.Command{
		Use:   "terraguard",
		Short: "CLI client for the TerraGuard simulation backend",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("TERRAGUARD_SERVER", "http://localhost:8000"), "Server URL")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Load a dataset and start playback",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
	startCmd.Flags().StringVar(&csvPath, "csv-path", "", "Dataset path on the server (default: the mode's dataset)")
	startCmd.Flags().StringVarP(&mode, "mode", "m", "", "Mode (classification, regression)")
	root.AddCommand(startCmd)

	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop playback",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodPost, "/simulation/stop", nil, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Stop playback, rewind and clear the step log",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodPost, "/simulation/reset", nil, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the run state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/simulation/status", nil, nil)
		},
	})

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted steps, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/simulation/history", url.Values{"limit": {strconv.Itoa(limit)}}, nil)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 1000, "Maximum records")
	root.AddCommand(historyCmd)

	root.AddCommand(&cobra.Command{
		Use:   "speed [seconds]",
		Short: "Set the delay between steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call(http.MethodPost, "/simulation/set-speed", url.Values{"speed": {args[0]}}, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "mode [classification|regression]",
		Short: "Switch the predictor used from the next step on",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call(http.MethodPost, "/simulation/set-mode", url.Values{"mode": {args[0]}}, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "predict [classification|regression] [feature...]",
		Short: "Score one feature vector",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runPredict,
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/health", nil, nil)
		},
	})

	smokeCmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the simulation in-process for a while and print the first records",
		Args:  cobra.NoArgs,
		RunE:  runSmoke,
	}
	smokeCmd.Flags().StringVar(&csvPath, "csv-path", "", "Dataset path (default: the mode's dataset from config)")
	smokeCmd.Flags().StringVarP(&mode, "mode", "m", "classification", "Mode (classification, regression)")
	smokeCmd.Flags().DurationVar(&smokeDuration, "duration", 5*time.Second, "How long to run")
	smokeCmd.Flags().Float64Var(&smokeSpeed, "speed", 1.0, "Seconds between steps")
	smokeCmd.Flags().StringVar(&smokeDB, "db", "", "SQLite file for the step log (default: in memory)")
	smokeCmd.Flags().IntVar(&smokeLimit, "limit", 10, "Records to print")
	root.AddCommand(smokeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runStart(_ *cobra.Command, _ []string) error {
	q := url.Values{}
	if csvPath != "" {
		q.Set("csv_path", csvPath)
	}
	if mode != "" {
		q.Set("mode", mode)
	}
	return call(http.MethodPost, "/simulation/start", q, nil)
}

func runPredict(_ *cobra.Command, args []string) error {
	m, err := model.ParseMode(args[0])
	if err != nil {
		return err
	}

	features := make([]float64, 0, len(args)-1)
	for _, a := range args[1:] {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("feature %q is not a number", a)
		}
		features = append(features, f)
	}

	body, err := json.Marshal(map[string]any{"features": features})
	if err != nil {
		return err
	}
	return call(http.MethodPost, "/predict/"+m.String(), nil, body)
}

// call sends one request and pretty-prints the JSON reply. Non-2xx replies
// are printed and reported as an error.
func call(method, path string, query url.Values, body []byte) error {
	target := serverURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Pretty print
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func runSmoke(_ *cobra.Command, _ []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.DefaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var store storage.Store = storage.NewMemory()
	if smokeDB != "" {
		s, err := storage.NewSQLite(smokeDB)
		if err != nil {
			return fmt.Errorf("opening %s: %w", smokeDB, err)
		}
		store = s
	}
	defer store.Close()

	ctx := context.Background()
	classifier, regressor, err := model.New(ctx, cfg.Models)
	if err != nil {
		return err
	}

	sim := simulation.NewController(simulation.Options{
		Dataset:    dataset.NewLoader(),
		Store:      store,
		Alerts:     alert.NewEngine(cfg.Alerts),
		Classifier: classifier,
		Regressor:  regressor,
		Config:     cfg.Simulation,
		Defaults:   cfg.Dataset,
	})
	if err := sim.SetSpeed(smokeSpeed); err != nil {
		return err
	}

	loaded, err := sim.StartWith(csvPath, mode)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Starting simulation on %s for %s...\n", loaded, smokeDuration)

	time.Sleep(smokeDuration)
	sim.Stop()

	history, err := sim.History(ctx, smokeLimit)
	if err != nil {
		return err
	}
	formatted, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}
