package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogRefresh reloads the product and supplier catalog.
	TaskCatalogRefresh = "catalog:refresh"
)

// catalogRefreshUnique is the window in which identical refresh requests
// collapse into one task.
const catalogRefreshUnique = 30 * time.Second

// CatalogRefreshPayload records why a refresh was requested.
type CatalogRefreshPayload struct {
	Reason string `json:"reason"`
}

// NewCatalogRefreshTask constructs a catalog refresh task.
func NewCatalogRefreshTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(CatalogRefreshPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogRefresh, data), nil
}
