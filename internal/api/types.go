package api

import (
	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/progress"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ConvertRequest carries node parameters; empty fields take node defaults.
type ConvertRequest struct {
	ModelName      string `json:"model_name"`
	OutputFilename string `json:"output_filename,omitempty"`
	ModelType      string `json:"model_type,omitempty"`
	Device         string `json:"device,omitempty"`
}

type ConvertResponse struct {
	Status string          `json:"status"`
	Report *convert.Report `json:"report,omitempty"`
}

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Done reports whether the job reached a terminal state.
func (s JobState) Done() bool {
	return s == JobSucceeded || s == JobFailed
}

type Job struct {
	ID        string            `json:"id"`
	State     JobState          `json:"state"`
	Request   ConvertRequest    `json:"request"`
	Progress  progress.Snapshot `json:"progress"`
	Status    string            `json:"status,omitempty"`
	Error     *ResponseError    `json:"error,omitempty"`
	Report    *convert.Report   `json:"report,omitempty"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

type ProfileInfo struct {
	Name      string   `json:"name"`
	Default   bool     `json:"default"`
	Blacklist []string `json:"blacklist"`
	FP8       []string `json:"fp8"`
	Prefix    string   `json:"prefix"`
}

type ModelList struct {
	Folder string   `json:"folder"`
	Models []string `json:"models"`
}
