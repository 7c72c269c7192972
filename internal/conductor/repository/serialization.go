package repository

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/autoqa-project/conductor/internal/conductor/domain"
)

// Records are stored as Redis hashes with string-encoded fields: RFC3339
// for timestamps (second precision), whole seconds for durations and JSON
// for maps and lists.

func jobFields(job *domain.Job) map[string]interface{} {
	fields := map[string]interface{}{
		"id":           job.Id,
		"spec_path":    job.SpecPath,
		"spec_content": job.SpecContent,
		"suite":        job.Suite,
		"name":         job.Name,
		"status":       string(job.Status),
		"priority":     string(job.Priority),
		"created":      encodeTime(job.Created),
		"started":      encodeTime(job.Started),
		"finished":     encodeTime(job.Finished),
		"worker_id":    job.WorkerId,
		"retries":      strconv.Itoa(job.Retries),
		"max_retries":  strconv.Itoa(job.MaxRetries),
		"timeout":      strconv.FormatInt(int64(job.Timeout/time.Second), 10),
		"environment":  job.Environment,
		"variables":    encodeJSON(job.Variables),
		"tags":         encodeJSON(job.Tags),
		"ci_metadata":  encodeJSON(job.CIMetadata),
		"error":        job.Error,
	}
	return fields
}

func jobFromFields(fields map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		Id:          fields["id"],
		SpecPath:    fields["spec_path"],
		SpecContent: fields["spec_content"],
		Suite:       fields["suite"],
		Name:        fields["name"],
		Status:      domain.JobStatus(fields["status"]),
		Priority:    domain.JobPriority(fields["priority"]),
		WorkerId:    fields["worker_id"],
		Environment: fields["environment"],
		Error:       fields["error"],
	}

	var err error
	if job.Created, err = decodeTime(fields["created"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding created for job %q", job.Id)
	}
	if job.Started, err = decodeTime(fields["started"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding started for job %q", job.Id)
	}
	if job.Finished, err = decodeTime(fields["finished"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding finished for job %q", job.Id)
	}
	if job.Retries, err = decodeInt(fields["retries"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding retries for job %q", job.Id)
	}
	if job.MaxRetries, err = decodeInt(fields["max_retries"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding max_retries for job %q", job.Id)
	}
	timeoutSecs, err := decodeInt(fields["timeout"])
	if err != nil {
		return nil, errors.WithMessagef(err, "decoding timeout for job %q", job.Id)
	}
	job.Timeout = time.Duration(timeoutSecs) * time.Second

	if err := decodeJSON(fields["variables"], &job.Variables); err != nil {
		return nil, errors.WithMessagef(err, "decoding variables for job %q", job.Id)
	}
	if err := decodeJSON(fields["tags"], &job.Tags); err != nil {
		return nil, errors.WithMessagef(err, "decoding tags for job %q", job.Id)
	}
	if err := decodeJSON(fields["ci_metadata"], &job.CIMetadata); err != nil {
		return nil, errors.WithMessagef(err, "decoding ci_metadata for job %q", job.Id)
	}
	return job, nil
}

func workerFields(worker *domain.Worker) map[string]interface{} {
	return map[string]interface{}{
		"id":                  worker.Id,
		"hostname":            worker.Hostname,
		"status":              string(worker.Status),
		"current_job_id":      worker.CurrentJobId,
		workerHeartbeatField:  encodeTime(worker.LastHeartbeat),
		"capabilities":        encodeJSON(worker.Capabilities),
		"max_concurrent_jobs": strconv.Itoa(worker.MaxConcurrentJobs),
		"active_jobs":         strconv.Itoa(worker.ActiveJobs),
	}
}

func workerFromFields(fields map[string]string) (*domain.Worker, error) {
	worker := &domain.Worker{
		Id:           fields["id"],
		Hostname:     fields["hostname"],
		Status:       domain.WorkerStatus(fields["status"]),
		CurrentJobId: fields["current_job_id"],
	}

	var err error
	if worker.LastHeartbeat, err = decodeTime(fields[workerHeartbeatField]); err != nil {
		return nil, errors.WithMessagef(err, "decoding heartbeat for worker %q", worker.Id)
	}
	if err := decodeJSON(fields["capabilities"], &worker.Capabilities); err != nil {
		return nil, errors.WithMessagef(err, "decoding capabilities for worker %q", worker.Id)
	}
	if worker.MaxConcurrentJobs, err = decodeInt(fields["max_concurrent_jobs"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding max_concurrent_jobs for worker %q", worker.Id)
	}
	if worker.ActiveJobs, err = decodeInt(fields["active_jobs"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding active_jobs for worker %q", worker.Id)
	}
	return worker, nil
}

func resultFields(result *domain.JobResult) (map[string]interface{}, error) {
	payload := ""
	if result.Payload != nil {
		data, err := json.Marshal(result.Payload)
		if err != nil {
			return nil, errors.WithMessagef(err, "marshalling result payload for job %q", result.JobId)
		}
		payload = string(data)
	}
	return map[string]interface{}{
		"job_id":      result.JobId,
		"finished_at": encodeTime(result.FinishedAt),
		"payload":     payload,
		"error":       result.Error,
	}, nil
}

func resultFromFields(fields map[string]string) (*domain.JobResult, error) {
	result := &domain.JobResult{
		JobId: fields["job_id"],
		Error: fields["error"],
	}
	var err error
	if result.FinishedAt, err = decodeTime(fields["finished_at"]); err != nil {
		return nil, errors.WithMessagef(err, "decoding finished_at for job %q", result.JobId)
	}
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &result.Payload); err != nil {
			return nil, errors.WithMessagef(err, "unmarshalling result payload for job %q", result.JobId)
		}
	}
	return result, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func decodeInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func encodeJSON(v interface{}) string {
	switch x := v.(type) {
	case map[string]string:
		if x == nil {
			return ""
		}
	case []string:
		if x == nil {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		// maps of strings and string slices cannot fail to marshal
		return ""
	}
	return string(data)
}

func decodeJSON(raw string, out interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
