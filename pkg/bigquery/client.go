// Package bigquery streams settlement analytics rows into BigQuery.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

// dedupeColumn must exist on the settlement table; streamed rows are
// deduplicated on it.
const dedupeColumn = "event_id"

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Keyed rows carry a stable insert id so a redelivered event is dropped by
// BigQuery's best-effort streaming dedupe.
type Keyed interface {
	InsertID() string
}

// Client writes to a single dataset.
type Client struct {
	bq      *bigquery.Client
	dataset *bigquery.Dataset
	table   string
}

// NewClient connects to BigQuery and checks the settlement table schema.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project, dataset, table, err := target(gcp, cfg)
	if err != nil {
		return nil, err
	}

	bq, err := bigquery.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	client := &Client{bq: bq, dataset: bq.Dataset(dataset), table: table}
	if err := client.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": dataset,
			"table":   table,
		}), "bigquery ready")
	}
	return client, nil
}

func target(gcp config.GCPConfig, cfg config.BigQueryConfig) (project, dataset, table string, err error) {
	project = strings.TrimSpace(gcp.ProjectID)
	dataset = strings.TrimSpace(cfg.Dataset)
	table = strings.TrimSpace(cfg.SettlementEventsTable)
	switch {
	case project == "":
		err = errProjectIDRequired
	case dataset == "":
		err = errDatasetRequired
	case table == "":
		err = errTableNameRequired
	}
	return project, dataset, table, err
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping confirms the settlement table exists and still has the dedupe column.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	meta, err := c.dataset.Table(c.table).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("table %s.%s does not exist", c.dataset.DatasetID, c.table)
		}
		return fmt.Errorf("table %s.%s metadata: %w", c.dataset.DatasetID, c.table, err)
	}
	return checkSchema(meta.Schema)
}

func checkSchema(schema bigquery.Schema) error {
	for _, field := range schema {
		if field.Name == dedupeColumn {
			return nil
		}
	}
	return fmt.Errorf("settlement table is missing column %q", dedupeColumn)
}

// Table is the configured settlement events table.
func (c *Client) Table() string {
	if c == nil {
		return ""
	}
	return c.table
}

// InsertRows streams rows into table. Keyed rows are sent with their insert id.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	if err := c.dataset.Table(table).Inserter().Put(ctx, savers(rows)); err != nil {
		return describePut(table, err)
	}
	return nil
}

func savers(rows []any) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		keyed, ok := row.(Keyed)
		if !ok {
			out[i] = row
			continue
		}
		out[i] = &bigquery.StructSaver{Struct: row, InsertID: keyed.InsertID()}
	}
	return out
}

// describePut flattens per-row failures into one error naming the rows.
func describePut(table string, err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) || len(multi) == 0 {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	failed := make([]string, 0, len(multi))
	for _, rowErr := range multi {
		failed = append(failed, fmt.Sprintf("row %d: %v", rowErr.RowIndex, rowErr.Errors))
	}
	return fmt.Errorf("insert into %s rejected %d row(s): %s: %w", table, len(multi), strings.Join(failed, "; "), err)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
