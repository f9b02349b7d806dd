package model

import (
	"fmt"
	"sync"
	"time"
)

// KindCase is the store partition and log kind for cases.
const KindCase = "Case"

// CaseNodeType classifies the steps a case is expected to go through.
type CaseNodeType string

// Case node types.
const (
	NodeChat         CaseNodeType = "chat"
	NodeTrigger      CaseNodeType = "trigger"
	NodeNotification CaseNodeType = "notification"
	NodeValidation   CaseNodeType = "validation"
	NodeDelivery     CaseNodeType = "delivery"
	NodeError        CaseNodeType = "error"
	NodeWarning      CaseNodeType = "warning"
	NodeInfo         CaseNodeType = "info"
)

// CaseNode describes one expected step of a case.
type CaseNode struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Type        CaseNodeType `json:"type"`
}

// formKey is the payload key under which a human-input question is embedded.
const formKey = "supervaizer_form"

// CaseNodeUpdate is one progress report appended to a case. Index is assigned
// when the update is appended; any value set by the caller is overwritten.
type CaseNodeUpdate struct {
	Index   int            `json:"index"`
	Cost    *float64       `json:"cost"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
	IsFinal bool           `json:"is_final"`
	Error   *string        `json:"error"`
}

// Question returns the pending human-input question embedded in the payload.
func (u CaseNodeUpdate) Question() (string, bool) {
	form, ok := u.Payload[formKey].(map[string]any)
	if !ok {
		return "", false
	}
	q, ok := form["question"].(string)
	return q, ok && q != ""
}

// HasError reports whether the update carries an error.
func (u CaseNodeUpdate) HasError() bool {
	return u.Error != nil && *u.Error != ""
}

func (u CaseNodeUpdate) clone() CaseNodeUpdate {
	u.Payload = CloneMap(u.Payload)
	if u.Cost != nil {
		c := *u.Cost
		u.Cost = &c
	}
	if u.Error != nil {
		e := *u.Error
		u.Error = &e
	}
	return u
}

// CaseSpec is a request to start a case under a job.
type CaseSpec struct {
	// ID is optional; a ULID is generated when empty.
	ID          string
	JobID       string
	Name        string
	Description string
	Nodes       []CaseNode
}

// Case is a tracked sub-step of a job. It refers to its job by id only.
type Case struct {
	mu sync.Mutex

	ID            string
	JobID         string
	Name          string
	Description   string
	Status        Status
	Nodes         []CaseNode
	Updates       []CaseNodeUpdate
	TotalCost     float64
	FinalDelivery map[string]any
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

// NewCase returns a case in the stopped status.
func NewCase(spec CaseSpec, now time.Time) *Case {
	return &Case{
		ID:          spec.ID,
		JobID:       spec.JobID,
		Name:        spec.Name,
		Description: spec.Description,
		Status:      StatusStopped,
		Nodes:       append([]CaseNode(nil), spec.Nodes...),
		Updates:     []CaseNodeUpdate{},
		CreatedAt:   now.UTC(),
	}
}

func (c *Case) Lock()   { c.mu.Lock() }
func (c *Case) Unlock() { c.mu.Unlock() }

func (c *Case) Kind() string             { return KindCase }
func (c *Case) EntityID() string         { return c.ID }
func (c *Case) EntityName() string       { return c.Name }
func (c *Case) EntityStatus() Status     { return c.Status }
func (c *Case) SetEntityStatus(s Status) { c.Status = s }
func (c *Case) OwnerKey() string         { return c.JobID }
func (c *Case) Finished() bool           { return c.FinishedAt != nil }

func (c *Case) MarkFinished(t time.Time) {
	t = t.UTC()
	c.FinishedAt = &t
}

// CaseRef identifies the case across jobs.
func (c *Case) CaseRef() string {
	return c.JobID + "-" + c.ID
}

// AppendUpdate assigns the next 1-based index to u, appends it and returns
// the stored copy.
func (c *Case) AppendUpdate(u CaseNodeUpdate) CaseNodeUpdate {
	u = u.clone()
	u.Index = len(c.Updates) + 1
	c.Updates = append(c.Updates, u)
	return u
}

// CalculatedCost sums the cost of every update.
func (c *Case) CalculatedCost() float64 {
	var total float64
	for _, u := range c.Updates {
		if u.Cost != nil {
			total += *u.Cost
		}
	}
	return total
}

// Clone returns a deep copy that shares no mutable state with c.
func (c *Case) Clone() *Case {
	out := &Case{
		ID:            c.ID,
		JobID:         c.JobID,
		Name:          c.Name,
		Description:   c.Description,
		Status:        c.Status,
		Nodes:         append([]CaseNode(nil), c.Nodes...),
		TotalCost:     c.TotalCost,
		FinalDelivery: CloneMap(c.FinalDelivery),
		CreatedAt:     c.CreatedAt,
	}
	if c.Updates != nil {
		out.Updates = make([]CaseNodeUpdate, len(c.Updates))
		for i, u := range c.Updates {
			out.Updates[i] = u.clone()
		}
	}
	if c.FinishedAt != nil {
		t := *c.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

type caseRecord struct {
	ID            string           `json:"id"`
	JobID         string           `json:"job_id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Status        Status           `json:"status"`
	Nodes         []CaseNode       `json:"nodes"`
	Updates       []CaseNodeUpdate `json:"updates"`
	TotalCost     float64          `json:"total_cost"`
	FinalDelivery map[string]any   `json:"final_delivery"`
	CreatedAt     string           `json:"created_at"`
	FinishedAt    string           `json:"finished_at"`
}

// Record returns the persisted representation of c.
func (c *Case) Record() (map[string]any, error) {
	nodes := c.Nodes
	if nodes == nil {
		nodes = []CaseNode{}
	}
	updates := c.Updates
	if updates == nil {
		updates = []CaseNodeUpdate{}
	}
	return toRecord(caseRecord{
		ID:            c.ID,
		JobID:         c.JobID,
		Name:          c.Name,
		Description:   c.Description,
		Status:        c.Status,
		Nodes:         nodes,
		Updates:       updates,
		TotalCost:     c.TotalCost,
		FinalDelivery: c.FinalDelivery,
		CreatedAt:     formatTime(&c.CreatedAt),
		FinishedAt:    formatTime(c.FinishedAt),
	})
}

// CaseFromRecord rebuilds a case from its persisted representation without
// side effects.
func CaseFromRecord(rec map[string]any) (*Case, error) {
	var r caseRecord
	if err := fromRecord(rec, &r); err != nil {
		return nil, fmt.Errorf("decode case record: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("decode case record: %w: missing id", ErrMalformedRecord)
	}
	if r.JobID == "" {
		return nil, fmt.Errorf("case %s: %w: missing job_id", r.ID, ErrMalformedRecord)
	}
	if !r.Status.Valid() {
		return nil, fmt.Errorf("case %s: %w: unknown status %q", r.ID, ErrMalformedRecord, r.Status)
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("case %s: created_at: %w", r.ID, err)
	}
	finished, err := parseTime(r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("case %s: finished_at: %w", r.ID, err)
	}

	c := &Case{
		ID:            r.ID,
		JobID:         r.JobID,
		Name:          r.Name,
		Description:   r.Description,
		Status:        r.Status,
		Nodes:         r.Nodes,
		Updates:       r.Updates,
		TotalCost:     r.TotalCost,
		FinalDelivery: r.FinalDelivery,
		FinishedAt:    finished,
	}
	if c.Updates == nil {
		c.Updates = []CaseNodeUpdate{}
	}
	if created != nil {
		c.CreatedAt = *created
	}
	return c, nil
}
