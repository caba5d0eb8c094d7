package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbwhisper/dbwhisper/internal/api"
	"github.com/dbwhisper/dbwhisper/internal/artifact"
	"github.com/dbwhisper/dbwhisper/internal/config"
	"github.com/dbwhisper/dbwhisper/internal/logger"
	"github.com/dbwhisper/dbwhisper/internal/service"
)

var (
	configPath string
	schemaName string
	outputPath string
	upload     bool
	force      bool
	execute    bool
	asJSON     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dbwhisper",
	Short: "Ask your database questions in plain language",
	Long: `dbwhisper introspects a relational database, indexes its schema for
semantic retrieval, and turns natural-language questions into executed SQL.`,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract schema metadata from the database",
	Long:  `Introspect the configured database and print the schema as JSON.`,
	RunE:  runExtract,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the retrieval index from the schema",
	Long:  `Synthesize retrieval documents from the schema and populate the vector index.`,
	RunE:  runBuild,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a natural-language question",
	Long:  `Generate SQL for the question, execute it, and print the result with an explanation.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots [key]",
	Short: "List or fetch uploaded schema snapshots",
	Long: `With no argument, list the snapshot keys stored for the configured schema.
With a key, download that snapshot and print it as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshots,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: dbwhisper.yaml if present)")

	extractCmd.Flags().StringVar(&schemaName, "schema", "", "Schema (owner) to introspect (default: from config)")
	extractCmd.Flags().StringVar(&outputPath, "output", "", "Write the schema JSON to a file instead of stdout")
	extractCmd.Flags().BoolVar(&upload, "upload", false, "Upload the schema snapshot to the configured object store")
	extractCmd.Flags().BoolVar(&force, "force", false, "Bypass the schema cache")

	buildCmd.Flags().BoolVar(&force, "force", false, "Clear and rebuild an already populated index")

	queryCmd.Flags().BoolVar(&execute, "execute", true, "Execute the generated SQL (disable to only generate)")
	queryCmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer as JSON instead of a preview")

	snapshotsCmd.Flags().StringVar(&schemaName, "schema", "", "Schema (owner) whose snapshots to list (default: from config)")
	snapshotsCmd.Flags().StringVar(&outputPath, "output", "", "Write the fetched snapshot to a file instead of stdout")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

// loadConfig loads configuration and builds the logger.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if schemaName != "" {
		cfg.Database.Schema = schemaName
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	return cfg, log, nil
}

// setup loads configuration, builds the logger, and wires the service.
func setup(ctx context.Context) (*service.Service, *config.Config, *logger.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	svc, err := service.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return svc, cfg, log, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	meta, err := svc.ExtractMetadata(ctx, force)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		fmt.Printf("Schema written to %s (%d tables)\n", outputPath, len(meta.Tables))
	} else {
		fmt.Println(string(data))
	}

	if upload {
		store, err := artifact.New(ctx, cfg.Artifact, log)
		if err != nil {
			return err
		}
		key, err := store.Upload(ctx, meta)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot uploaded as %s\n", key)
	}

	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, _, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Ready(ctx); err != nil {
		return err
	}

	n, err := svc.BuildIndex(ctx, force)
	if err != nil {
		return err
	}

	fmt.Printf("Index ready with %d retrieval units\n", n)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := args[0]

	svc, _, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !execute {
		gen, _, err := svc.GenerateSQL(ctx, question)
		if err != nil {
			return err
		}
		fmt.Println(gen.SQL)
		return nil
	}

	answer, err := svc.Ask(ctx, question)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printAnswer(answer)
	return nil
}

// previewRows caps the number of result rows shown by `query`.
const previewRows = 5

func printAnswer(answer *service.Answer) {
	fmt.Printf("SQL:\n%s\n\n", answer.SQL)
	fmt.Printf("Explanation:\n%s\n\n", answer.Explanation)

	result := answer.Result
	if !result.Success {
		fmt.Printf("Execution failed: %s\n", result.Error)
		return
	}

	fmt.Println(strings.Join(result.Columns, " | "))
	for i, row := range result.Rows {
		if i >= previewRows {
			break
		}
		cells := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			cells[j] = fmt.Sprintf("%v", row[col])
		}
		fmt.Println(strings.Join(cells, " | "))
	}
	if result.RowCount > previewRows {
		fmt.Printf("... %d more rows\n", result.RowCount-previewRows)
	}
	fmt.Printf("\n%d rows\n", result.RowCount)
}

// runSnapshots talks only to the object store; no database connection
// is made.
func runSnapshots(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := artifact.New(ctx, cfg.Artifact, log)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		keys, err := store.List(ctx, cfg.Database.Schema)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Printf("No snapshots stored for %s\n", cfg.Database.Schema)
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	}

	meta, err := store.Download(ctx, args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write snapshot file: %w", err)
		}
		fmt.Printf("Snapshot written to %s (%d tables)\n", outputPath, len(meta.Tables))
		return nil
	}
	fmt.Println(string(data))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Ready(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(svc, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
