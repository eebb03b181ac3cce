package batch

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskImportRun = "imports.run"

func NewImportRunTask(job Job) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportRun, data), nil
}

func ParseImportRunPayload(task *asynq.Task) (Job, error) {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return Job{}, err
	}
	return job, nil
}
