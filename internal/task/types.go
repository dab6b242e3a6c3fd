package task

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions happen without a retry.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Stage is the last completed pipeline step, 0 before the first one.
type Stage int

const (
	StageNone Stage = iota
	StageNormalized
	StageSessionOpened
	StageNavigated
	StageTranslated
	StageParsed
	StageInlined
	StageRegistered
)

const NumStages = int(StageRegistered)

var stageLabels = [...]string{
	StageNone:          "waiting to start",
	StageNormalized:    "reference resolved",
	StageSessionOpened: "browser started with extension",
	StageNavigated:     "page opened",
	StageTranslated:    "translation finished",
	StageParsed:        "page content parsed",
	StageInlined:       "resources downloaded and embedded",
	StageRegistered:    "saved to library",
}

// Label is the display text for the stage, e.g. "(3/7) page opened".
func (s Stage) Label() string {
	if s <= StageNone || int(s) > NumStages {
		return stageLabels[StageNone]
	}
	return fmt.Sprintf("(%d/%d) %s", int(s), NumStages, stageLabels[s])
}

type Task struct {
	ID             string    `json:"id"`
	Reference      string    `json:"reference"`
	CollectionKey  string    `json:"collection_key,omitempty"`
	CollectionName string    `json:"collection_name,omitempty"`
	Status         Status    `json:"status"`
	Stage          Stage     `json:"stage"`
	Title          string    `json:"title,omitempty"`
	Error          string    `json:"error,omitempty"`
	ResolvedURL    string    `json:"resolved_url,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	ItemKey        string    `json:"item_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StageLabel is used by the HTML view.
func (t Task) StageLabel() string {
	switch t.Status {
	case StatusSucceeded:
		return "done"
	case StatusFailed:
		return "error"
	case StatusCancelled:
		return "cancelled"
	}
	return t.Stage.Label()
}

type Options struct {
	DataDir            string
	MaxConcurrentTasks int
	EventBuffer        int
	Runner             Runner
}

const (
	defaultMaxConcurrent = 1
	defaultEventBuffer   = 64
	restartMessage       = "interrupted by restart"
	errorTitlePrefix     = "error: "
)
