package positions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BigQueryConfig holds configuration for the position-log table.
type BigQueryConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: path to a service account JSON file.
}

// NewBigQueryClient creates a BigQuery client, falling back to Application
// Default Credentials when no credentials file is configured.
func NewBigQueryClient(ctx context.Context, cfg *BigQueryConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("BigQuery client created.")
	return client, nil
}

// BigQueryInserter streams position rows into the configured table.
type BigQueryInserter struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter verifies the target table, creating it with a schema
// inferred from Position when it does not exist yet.
func NewBigQueryInserter(ctx context.Context, client *bigquery.Client, cfg *BigQueryConfig, logger zerolog.Logger) (*BigQueryInserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	log := logger.With().
		Str("component", "BigQueryInserter").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("get table metadata: %w", err)
		}
		log.Warn().Msg("Position table not found, creating with inferred schema.")
		schema, inferErr := bigquery.InferSchema(Position{})
		if inferErr != nil {
			return nil, fmt.Errorf("infer position schema: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: schema}); createErr != nil {
			return nil, fmt.Errorf("create table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		log.Info().Msg("Position table created.")
	}

	return &BigQueryInserter{
		inserter: tableRef.Inserter(),
		logger:   log,
	}, nil
}

// InsertBatch appends rows, logging each failed row from a PutMultiError.
func (i *BigQueryInserter) InsertBatch(ctx context.Context, rows []*Position) error {
	if len(rows) == 0 {
		return nil
	}
	err := i.inserter.Put(ctx, rows)
	if err == nil {
		i.logger.Debug().Int("batch_size", len(rows)).Msg("Inserted position batch.")
		return nil
	}

	i.logger.Error().Err(err).Int("batch_size", len(rows)).Msg("Failed to insert position batch.")
	var multiErr bigquery.PutMultiError
	if errors.As(err, &multiErr) {
		for _, rowErr := range multiErr {
			i.logger.Error().
				Int("row_index", rowErr.RowIndex).
				Msgf("Position row rejected: %v", rowErr.Errors)
		}
	}
	return fmt.Errorf("bigquery Inserter.Put: %w", err)
}

// Close is a no-op; the client's lifecycle is managed externally.
func (i *BigQueryInserter) Close() error {
	return nil
}
