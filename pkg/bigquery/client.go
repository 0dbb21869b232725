// Package bigquery owns the analytics sink: one dataset holding the
// order_events table that the analytics worker streams into.
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

	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

// orderEventColumns must exist on the order events table; everything else
// the writer sends is nullable and may be added later.
var orderEventColumns = []string{"event_id", "event_type", "occurred_at", "store_id"}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// InsertIDer is implemented by rows that carry their own de-duplication key.
// Streaming inserts with the same id inside BigQuery's dedupe window land once,
// which absorbs Pub/Sub redeliveries of an outbox event.
type InsertIDer interface {
	InsertID() string
}

type Client struct {
	client      *bigquery.Client
	dataset     *bigquery.Dataset
	orderEvents string
}

// NewClient connects to the dataset and checks that the order events table
// exists with the columns the analytics writer depends on.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	table := strings.TrimSpace(cfg.OrderEventsTable)
	if table == "" {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:      bqClient,
		dataset:     bqClient.Dataset(datasetID),
		orderEvents: table,
	}
	if err := client.checkOrderEvents(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "table": table}), "bigquery order events table ready")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func (c *Client) checkOrderEvents(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	meta, err := c.dataset.Table(c.orderEvents).Metadata(ctx)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("table %s.%s does not exist", c.dataset.DatasetID, c.orderEvents)
		}
		return fmt.Errorf("checking table %s.%s: %w", c.dataset.DatasetID, c.orderEvents, err)
	}
	if missing := missingColumns(meta.Schema, orderEventColumns); len(missing) > 0 {
		return fmt.Errorf("table %s.%s is missing columns %s", c.dataset.DatasetID, c.orderEvents, strings.Join(missing, ", "))
	}
	return nil
}

func missingColumns(schema bigquery.Schema, required []string) []string {
	present := make(map[string]struct{}, len(schema))
	for _, field := range schema {
		if field != nil {
			present[strings.ToLower(field.Name)] = struct{}{}
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// InsertRows streams rows into table. Rows implementing InsertIDer are sent
// with their id so retried batches do not double count.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, withInsertIDs(rows))
}

func withInsertIDs(rows []any) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		ider, ok := row.(InsertIDer)
		if !ok || ider.InsertID() == "" {
			out[i] = row
			continue
		}
		out[i] = &bigquery.StructSaver{Struct: row, InsertID: ider.InsertID()}
	}
	return out
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
