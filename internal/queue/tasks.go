package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskIngestPDF = "pdf:ingest"

	// IngestPayloadVersion is bumped whenever the payload schema changes.
	// Workers reject versions they do not understand instead of guessing.
	IngestPayloadVersion = 1
)

// IngestPayload is the job message carried through Redis from the upload
// handler to the ingestion worker.
type IngestPayload struct {
	Version  int    `json:"version"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
}

// IngestResult is written back to the broker when a job succeeds, so
// completed tasks carry how many chunks they stored.
type IngestResult struct {
	ChunksStored int `json:"chunks_stored"`
}

// NewIngestTask builds the asynq task for a saved upload. Retry and timeout
// are broker policy, set once here at task creation. Retention keeps the
// completed task, and its result, visible for a day.
func NewIngestTask(filePath, fileName string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		Version:  IngestPayloadVersion,
		FilePath: filePath,
		FileName: fileName,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestPDF,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
		asynq.Retention(24*time.Hour),
	), nil
}

// Client enqueues ingestion jobs. It does not retry or inspect job outcomes;
// that is the broker's job.
type Client struct {
	client *asynq.Client
}

func NewClient(redisOpt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpt)}
}

// EnqueueIngest submits an ingestion job for the saved file and returns the
// broker's task info. Errors (broker unreachable, serialization) surface to
// the caller.
func (c *Client) EnqueueIngest(filePath, fileName string) (*asynq.TaskInfo, error) {
	task, err := NewIngestTask(filePath, fileName)
	if err != nil {
		return nil, err
	}
	return c.client.Enqueue(task)
}

func (c *Client) Close() error {
	return c.client.Close()
}
