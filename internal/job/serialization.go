package job

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Record is the full serialized form of a job, consumed by the result
// storage layer.
type Record struct {
	ID     RecordID     `json:"id"`
	Exec   string       `json:"exec"`
	Result RecordResult `json:"result"`
	Data   RecordData   `json:"data"`
}

type RecordID struct {
	JID     string `json:"jid"`
	FQName  string `json:"fq_name"`
	TEName  string `json:"te_name"`
	Label   string `json:"label"`
	Subtree string `json:"subtree"`
}

type RecordResult struct {
	RC     int     `json:"rc"`
	State  string  `json:"state"`
	Time   float64 `json:"time"`
	Output string  `json:"output"`
}

type RecordData struct {
	Tags      []string            `json:"tags"`
	Metrics   map[string][]string `json:"metrics,omitempty"`
	Artifacts map[string]string   `json:"artifacts,omitempty"`
}

// MinimalRecord carries the strict minimum needed to run a job in another
// process: its id and the wrapper invocation to spawn.
type MinimalRecord struct {
	JID           string `json:"jid"`
	InvocationCmd string `json:"invocation_cmd"`
}

// ToJSON serializes the whole job for publication.
func (j *Job) ToJSON() Record {
	return Record{
		ID: RecordID{
			JID:     j.JID,
			FQName:  j.FQName,
			TEName:  j.TEName,
			Label:   j.Label,
			Subtree: j.Subtree,
		},
		Exec: j.Command,
		Result: RecordResult{
			RC:     j.RC,
			State:  j.State.String(),
			Time:   j.Time,
			Output: string(j.B64Output()),
		},
		Data: RecordData{
			Tags:      j.Tags,
			Metrics:   j.Extracted,
			Artifacts: j.ArtifactData,
		},
	}
}

// ToMinimalJSON serializes the remote-handoff form of the job.
func (j *Job) ToMinimalJSON() MinimalRecord {
	return MinimalRecord{
		JID:           j.JID,
		InvocationCmd: j.InvocationCmd,
	}
}

// FromMinimalJSON rebuilds a job from its remote-handoff form. The resulting
// job carries only what the remote runner needs.
func FromMinimalJSON(data []byte) (*Job, error) {
	var record MinimalRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.WithStack(err)
	}
	return FromMinimalRecord(record), nil
}

// FromMinimalRecord rebuilds a job from an already-decoded minimal record.
func FromMinimalRecord(record MinimalRecord) *Job {
	return &Job{
		JID:           record.JID,
		InvocationCmd: record.InvocationCmd,
		State:         Waiting,
		Resources:     []int{1, 1},
	}
}
