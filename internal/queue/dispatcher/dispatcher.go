// Package dispatcher implements the Cloud Tasks-backed Queue Provider
// variant: each enqueue creates a one-shot HTTP task addressed to the
// worker's /tasks/process endpoint, and the dispatcher itself owns
// scheduling and retry.
package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/durationpb"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
)

// TaskBody is the JSON payload POSTed to /tasks/process, exported so the
// worker's HTTP handler can decode a delivered task.
type TaskBody struct {
	Name    string           `json:"name"`
	Data    model.JobPayload `json:"data"`
	Options TaskOptions      `json:"options"`
}

// TaskOptions is the options sub-object of TaskBody.
type TaskOptions struct {
	JobID    string `json:"jobId"`
	Priority int    `json:"priority"`
}

// Dispatcher implements queue.Provider over Cloud Tasks. GetNextJob is
// never called in this variant; the worker is passive and receives jobs as
// HTTP requests against /tasks/process.
type Dispatcher struct {
	client *cloudtasks.Client
	cfg    infraconfig.CloudTasksConfig
	log    logger.Logger

	mu         sync.Mutex
	cloudTasks map[string]string // jobID -> dispatcher-assigned cloudTasksId

	onComplete queue.CompletionHandler
	onFailed   queue.CompletionHandler
}

// New builds a Dispatcher using an already-authenticated Cloud Tasks
// client.
func New(client *cloudtasks.Client, cfg infraconfig.CloudTasksConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{client: client, cfg: cfg, log: log, cloudTasks: make(map[string]string)}
}

// CloudTaskName returns the dispatcher-assigned cloudTasksId recorded for
// jobID by AddJob, if any. The id lives only in this Dispatcher's memory;
// nothing writes it into the Job's data in the State Store.
func (d *Dispatcher) CloudTaskName(jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.cloudTasks[jobID]
	return name, ok
}

func (d *Dispatcher) queuePath() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", d.cfg.ProjectID, d.cfg.LocationID, d.cfg.QueueID)
}

// AddJob creates an HTTP task. The dispatcher-assigned task name is
// recorded in memory as cloudTasksId, retrievable via CloudTaskName; it is
// not written into the Job's data. AddJob itself always returns the
// caller-supplied jobId, never the dispatcher's id.
func (d *Dispatcher) AddJob(ctx context.Context, name string, data model.JobPayload, opts queue.AddOptions) (string, error) {
	body := TaskBody{
		Name: name,
		Data: data,
		Options: TaskOptions{
			JobID:    opts.JobID,
			Priority: opts.Priority,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal task body: %w", err)
	}

	req := &cloudtaskspb.CreateTaskRequest{
		Parent: d.queuePath(),
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{
				HttpRequest: &cloudtaskspb.HttpRequest{
					Url:        d.cfg.TargetURL,
					HttpMethod: cloudtaskspb.HttpMethod_POST,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       raw,
					AuthorizationHeader: &cloudtaskspb.HttpRequest_OidcToken{
						OidcToken: &cloudtaskspb.OidcToken{
							ServiceAccountEmail: d.cfg.ServiceAccount,
						},
					},
				},
			},
			DispatchDeadline: durationpb.New(0),
		},
	}

	task, err := d.client.CreateTask(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create cloud task: %w", err)
	}

	d.mu.Lock()
	d.cloudTasks[opts.JobID] = task.GetName()
	d.mu.Unlock()

	return opts.JobID, nil
}

// GetNextJob is not supported by the dispatcher variant; jobs arrive over
// HTTP at /tasks/process instead of being polled.
func (d *Dispatcher) GetNextJob(ctx context.Context) (*queue.Job, string, bool, error) {
	return nil, "", false, nil
}

// ExtendLock is a no-op: Cloud Tasks owns retry and redelivery scheduling.
func (d *Dispatcher) ExtendLock(ctx context.Context, token string, extensionMillis int64) error {
	return nil
}

// RemoveJob deletes the dispatcher-assigned task recorded for jobID by
// AddJob. It is a no-op if no task name was recorded (already delivered
// and forgotten, or never created by this variant), matching Cloud Tasks'
// own idempotent-delete semantics.
func (d *Dispatcher) RemoveJob(ctx context.Context, jobID string) error {
	d.mu.Lock()
	taskName, ok := d.cloudTasks[jobID]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	if err := d.client.DeleteTask(ctx, &cloudtaskspb.DeleteTaskRequest{Name: taskName}); err != nil {
		return fmt.Errorf("delete cloud task: %w", err)
	}

	d.mu.Lock()
	delete(d.cloudTasks, jobID)
	d.mu.Unlock()
	return nil
}

// GetActiveCount is not supported by the dispatcher variant.
func (d *Dispatcher) GetActiveCount(ctx context.Context) (int, error) {
	if d.log != nil {
		d.log.Debug("GetActiveCount not supported by dispatcher queue provider")
	}
	return 0, nil
}

// GetWaitingCount is not supported by the dispatcher variant.
func (d *Dispatcher) GetWaitingCount(ctx context.Context) (int, error) {
	if d.log != nil {
		d.log.Debug("GetWaitingCount not supported by dispatcher queue provider")
	}
	return 0, nil
}

// OnJobComplete registers the completion callback, invoked by Deliver.
func (d *Dispatcher) OnJobComplete(h queue.CompletionHandler) { d.onComplete = h }

// OnJobFailed registers the failure callback, invoked the same way.
func (d *Dispatcher) OnJobFailed(h queue.CompletionHandler) { d.onFailed = h }

// Deliver invokes the registered failure callback when jobErr is non-nil,
// otherwise the completion callback. The /tasks/process HTTP handler does
// not call it; that handler runs delivered jobs through the worker.
func (d *Dispatcher) Deliver(ctx context.Context, job *queue.Job, result *model.Result, jobErr error) {
	if jobErr != nil && d.onFailed != nil {
		d.onFailed(ctx, job, nil, jobErr)
		return
	}
	if d.onComplete != nil {
		d.onComplete(ctx, job, result, nil)
	}
}

// decodeTaskBody parses a base64-encoded /tasks/process request body back
// into the original JSON; Cloud Tasks HTTP targets may deliver the body
// base64-encoded depending on push configuration.
func decodeTaskBody(raw []byte) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return raw, nil
	}
	return decoded, nil
}

// ParseTask decodes a /tasks/process request body into a queue.Job, trying
// the body as-is first and falling back to base64 decoding.
func ParseTask(raw []byte) (*queue.Job, error) {
	var body TaskBody
	if err := json.Unmarshal(raw, &body); err != nil {
		decoded, decodeErr := decodeTaskBody(raw)
		if decodeErr != nil {
			return nil, fmt.Errorf("decode task body: %w", err)
		}
		if jsonErr := json.Unmarshal(decoded, &body); jsonErr != nil {
			return nil, fmt.Errorf("unmarshal task body: %w", jsonErr)
		}
	}

	return &queue.Job{
		ID:   body.Options.JobID,
		Name: body.Name,
		Data: body.Data,
		Options: queue.AddOptions{
			JobID:    body.Options.JobID,
			Priority: body.Options.Priority,
		},
	}, nil
}
