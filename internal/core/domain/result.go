package domain

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Artifact is one named binary output of a task. Data travels base64-encoded
// inside the wire protocol's JSON body; Size and Checksum allow the receiver
// to verify the decoded payload.
type Artifact struct {
	Data     []byte `json:"data"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// NewArtifact wraps raw bytes with their size and content checksum.
func NewArtifact(data []byte) Artifact {
	return Artifact{
		Data:     data,
		Size:     int64(len(data)),
		Checksum: ArtifactChecksum(data),
	}
}

// ArtifactChecksum computes the checksum recorded alongside artifact payloads.
func ArtifactChecksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Verify reports whether the payload matches the recorded size and checksum.
func (a Artifact) Verify() bool {
	return a.Size == int64(len(a.Data)) && a.Checksum == ArtifactChecksum(a.Data)
}

// TaskFailure describes a failure inside the task itself, as opposed to an
// engine-level infrastructure fault. A task failure never terminates the
// worker process that produced it.
type TaskFailure struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Result carries the named output artifacts of a task, or a structured
// task-level error.
type Result struct {
	Artifacts map[string]Artifact `json:"artifacts,omitempty"`
	Failure   *TaskFailure        `json:"failure,omitempty"`
}

// Failed reports whether the task itself failed.
func (r *Result) Failed() bool {
	return r.Failure != nil
}
