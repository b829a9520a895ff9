package history

import (
	"encoding/json"
	"time"

	"stagehand/internal/core"
	"stagehand/pkg/utils"
)

// Record is one completed run in the history chain. Hash covers every field
// except itself, including PrevHash, so rewriting any stored record breaks
// verification from that point on.
type Record struct {
	Seq      int64     `json:"seq"`
	ID       string    `json:"id"`
	Pipeline string    `json:"pipeline"`
	Status   string    `json:"status"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Error    string    `json:"error,omitempty"`
	Stages   string    `json:"stages"`             // JSON-encoded []core.StageResult
	Captured string    `json:"captured,omitempty"` // JSON-encoded map of captured vars
	LogHash  string    `json:"log_hash,omitempty"` // digest of the run's step logs
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// FromResult builds an unchained record from a finished run. The store fills
// Seq, PrevHash and Hash on append.
func FromResult(res *core.RunResult, logHash string) (Record, error) {
	stages, err := json.Marshal(res.Stages)
	if err != nil {
		return Record{}, err
	}
	captured := ""
	if len(res.Captured) > 0 {
		b, err := json.Marshal(res.Captured)
		if err != nil {
			return Record{}, err
		}
		captured = string(b)
	}
	return Record{
		ID:       res.ID,
		Pipeline: res.Pipeline,
		Status:   string(res.Status),
		Started:  res.Started,
		Finished: res.Finished,
		Error:    res.Error,
		Stages:   string(stages),
		Captured: captured,
		LogHash:  logHash,
	}, nil
}

// computeHash hashes the canonical view of the record: everything but Hash.
// Times collapse to unix seconds, matching what the store persists.
func (r Record) computeHash() string {
	view := struct {
		ID       string `json:"id"`
		Pipeline string `json:"pipeline"`
		Status   string `json:"status"`
		Started  int64  `json:"started"`
		Finished int64  `json:"finished"`
		Error    string `json:"error"`
		Stages   string `json:"stages"`
		Captured string `json:"captured"`
		LogHash  string `json:"logHash"`
		PrevHash string `json:"prevHash"`
	}{
		ID:       r.ID,
		Pipeline: r.Pipeline,
		Status:   r.Status,
		Started:  r.Started.Unix(),
		Finished: r.Finished.Unix(),
		Error:    r.Error,
		Stages:   r.Stages,
		Captured: r.Captured,
		LogHash:  r.LogHash,
		PrevHash: r.PrevHash,
	}
	b, _ := json.Marshal(view)
	return utils.HashString(string(b))
}
