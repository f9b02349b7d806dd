package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

// KindJob is the store partition and log kind for jobs.
const KindJob = "Job"

// JobInstructions are optional execution limits attached to a job context.
// Nil limits are not enforced.
type JobInstructions struct {
	MaxCases      *int     `json:"max_cases,omitempty"`
	MaxDuration   *int     `json:"max_duration,omitempty"`
	MaxCost       *float64 `json:"max_cost,omitempty"`
	StopOnWarning bool     `json:"stop_on_warning"`
	StopOnError   bool     `json:"stop_on_error"`
}

// NewJobInstructions returns instructions with no limits that stop on error.
func NewJobInstructions() JobInstructions {
	return JobInstructions{StopOnError: true}
}

// UnmarshalJSON applies the defaults of NewJobInstructions to absent keys.
func (i *JobInstructions) UnmarshalJSON(data []byte) error {
	type plain JobInstructions
	p := plain(NewJobInstructions())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*i = JobInstructions(p)
	return nil
}

// Check reports whether a job with the given number of cases, accumulated
// cost and elapsed run time may continue. When it may not, the second value
// names the limit that was reached.
func (i JobInstructions) Check(cases int, cost float64, elapsed time.Duration) (bool, string) {
	if i.MaxCases != nil && *i.MaxCases > 0 && cases >= *i.MaxCases {
		return false, fmt.Sprintf("max cases %d reached", *i.MaxCases)
	}
	if i.MaxDuration != nil && *i.MaxDuration > 0 && elapsed >= time.Duration(*i.MaxDuration)*time.Second {
		return false, fmt.Sprintf("max duration %d seconds reached", *i.MaxDuration)
	}
	if i.MaxCost != nil && *i.MaxCost > 0 && cost >= *i.MaxCost {
		return false, fmt.Sprintf("max cost %g reached", *i.MaxCost)
	}
	return true, ""
}

// JobContext is the caller-supplied context a job runs under.
type JobContext struct {
	WorkspaceID    string           `json:"workspace_id"`
	JobID          string           `json:"job_id"`
	StartedBy      string           `json:"started_by"`
	StartedAt      time.Time        `json:"started_at"`
	MissionID      string           `json:"mission_id"`
	MissionName    string           `json:"mission_name"`
	MissionContext any              `json:"mission_context,omitempty"`
	Instructions   *JobInstructions `json:"job_instructions,omitempty"`
}

// JobResponse is one outcome reported by a job's work function.
type JobResponse struct {
	JobID   string         `json:"job_id"`
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
	Error   string         `json:"error_message"`
}

// Job is a long-running unit of work owned by an agent.
//
// A Job is shared between the registry and the goroutine running its work, so
// every read or write of its fields must hold the job's lock.
type Job struct {
	mu sync.Mutex

	ID         string
	Name       string
	AgentName  string
	Status     Status
	Context    JobContext
	Parameters map[string]any
	Payload    map[string]any
	Result     map[string]any
	Error      string
	Responses  []JobResponse
	CaseIDs    []string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// NewJob returns a job in the stopped status.
func NewJob(id, name, agentName string, jctx JobContext, now time.Time) *Job {
	if jctx.JobID == "" {
		jctx.JobID = id
	}
	return &Job{
		ID:        id,
		Name:      name,
		AgentName: agentName,
		Status:    StatusStopped,
		Context:   jctx,
		CaseIDs:   []string{},
		CreatedAt: now.UTC(),
	}
}

func (j *Job) Lock()   { j.mu.Lock() }
func (j *Job) Unlock() { j.mu.Unlock() }

func (j *Job) Kind() string             { return KindJob }
func (j *Job) EntityID() string         { return j.ID }
func (j *Job) EntityName() string       { return j.Name }
func (j *Job) EntityStatus() Status     { return j.Status }
func (j *Job) SetEntityStatus(s Status) { j.Status = s }
func (j *Job) OwnerKey() string         { return j.AgentName }
func (j *Job) Finished() bool           { return j.FinishedAt != nil }

// MarkFinished sets FinishedAt.
func (j *Job) MarkFinished(t time.Time) {
	t = t.UTC()
	j.FinishedAt = &t
}

// ApplyResponse records r as the job's latest response and copies its
// payload into the job's result fields. It does not change the status.
func (j *Job) ApplyResponse(r JobResponse) {
	j.Payload = CloneMap(r.Payload)
	switch r.Status {
	case StatusCompleted:
		j.Result = CloneMap(r.Payload)
	case StatusFailed:
		j.Error = r.Message
	}
	r.Payload = CloneMap(r.Payload)
	j.Responses = append(j.Responses, r)
}

// LastResponse returns the most recent response, if any.
func (j *Job) LastResponse() (JobResponse, bool) {
	if len(j.Responses) == 0 {
		return JobResponse{}, false
	}
	return j.Responses[len(j.Responses)-1], true
}

// AddCaseID appends id to CaseIDs unless already present. It reports whether
// the list changed.
func (j *Job) AddCaseID(id string) bool {
	if slices.Contains(j.CaseIDs, id) {
		return false
	}
	j.CaseIDs = append(j.CaseIDs, id)
	return true
}

// RemoveCaseID removes id from CaseIDs. It reports whether the list changed.
func (j *Job) RemoveCaseID(id string) bool {
	i := slices.Index(j.CaseIDs, id)
	if i < 0 {
		return false
	}
	j.CaseIDs = slices.Delete(j.CaseIDs, i, i+1)
	return true
}

// Clone returns a deep copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	c := &Job{
		ID:         j.ID,
		Name:       j.Name,
		AgentName:  j.AgentName,
		Status:     j.Status,
		Context:    j.Context,
		Parameters: CloneMap(j.Parameters),
		Payload:    CloneMap(j.Payload),
		Result:     CloneMap(j.Result),
		Error:      j.Error,
		CaseIDs:    slices.Clone(j.CaseIDs),
		CreatedAt:  j.CreatedAt,
	}
	if j.Context.Instructions != nil {
		ins := *j.Context.Instructions
		c.Context.Instructions = &ins
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.Responses != nil {
		c.Responses = make([]JobResponse, len(j.Responses))
		for i, r := range j.Responses {
			r.Payload = CloneMap(r.Payload)
			c.Responses[i] = r
		}
	}
	return c
}

// jobRecord is the persisted shape of a job. Parameters are not persisted:
// they may carry decoded secrets.
type jobRecord struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	AgentName  string         `json:"agent_name"`
	Status     Status         `json:"status"`
	Context    JobContext     `json:"job_context"`
	Payload    map[string]any `json:"payload"`
	Result     map[string]any `json:"result"`
	Error      string         `json:"error"`
	Responses  []JobResponse  `json:"responses"`
	CaseIDs    []string       `json:"case_ids"`
	CreatedAt  string         `json:"created_at"`
	FinishedAt string         `json:"finished_at"`
}

// Record returns the persisted representation of j.
func (j *Job) Record() (map[string]any, error) {
	caseIDs := j.CaseIDs
	if caseIDs == nil {
		caseIDs = []string{}
	}
	responses := j.Responses
	if responses == nil {
		responses = []JobResponse{}
	}
	return toRecord(jobRecord{
		ID:         j.ID,
		Name:       j.Name,
		AgentName:  j.AgentName,
		Status:     j.Status,
		Context:    j.Context,
		Payload:    j.Payload,
		Result:     j.Result,
		Error:      j.Error,
		Responses:  responses,
		CaseIDs:    caseIDs,
		CreatedAt:  formatTime(&j.CreatedAt),
		FinishedAt: formatTime(j.FinishedAt),
	})
}

// JobFromRecord rebuilds a job from its persisted representation. It has no
// side effects: nothing is notified and nothing is written back.
func JobFromRecord(rec map[string]any) (*Job, error) {
	var r jobRecord
	if err := fromRecord(rec, &r); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("decode job record: %w: missing id", ErrMalformedRecord)
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("job %s: %w: unknown status %q", r.ID, ErrMalformedRecord, r.Status)
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("job %s: created_at: %w", r.ID, err)
	}
	finished, err := parseTime(r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("job %s: finished_at: %w", r.ID, err)
	}

	j := &Job{
		ID:         r.ID,
		Name:       r.Name,
		AgentName:  r.AgentName,
		Status:     r.Status,
		Context:    r.Context,
		Payload:    r.Payload,
		Result:     r.Result,
		Error:      r.Error,
		Responses:  r.Responses,
		CaseIDs:    r.CaseIDs,
		FinishedAt: finished,
	}
	if j.CaseIDs == nil {
		j.CaseIDs = []string{}
	}
	if created != nil {
		j.CreatedAt = *created
	}
	return j, nil
}
