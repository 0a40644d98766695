package deployer

import (
	"time"

	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type (
	// Transfer is one local file and the absolute remote path it is written to.
	Transfer struct {
		Local  string `json:"local" yaml:"local"`
		Remote string `json:"remote" yaml:"remote"`
		Size   int64  `json:"size" yaml:"size"`
	}

	// Report describes one deployment run. It is produced on failure too and
	// then lists everything uploaded before the error.
	Report struct {
		DeploymentID string     `json:"deploymentId"`
		Target       string     `json:"target"`
		RemoteRoot   string     `json:"remoteRoot"`
		StartedAt    time.Time  `json:"startedAt"`
		FinishedAt   time.Time  `json:"finishedAt"`
		Directories  []string   `json:"directories,omitempty"`
		Files        []Transfer `json:"files,omitempty"`
		Err          error      `json:"-"`
	}
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

func newReport(cfg Config) *Report {
	return &Report{
		DeploymentID: uuid.NewString(),
		Target:       cfg.Target.Description(),
		RemoteRoot:   cfg.Target.RemoteRoot,
		StartedAt:    time.Now(),
	}
}

// Type classifies the transfer by the local file's extension.
func (t Transfer) Type() fs.FileType {
	return fs.NewFile(t.Local, t.Size, time.Time{}).FileType
}

func (r *Report) Status() string {
	if r.Err != nil {
		return StatusFailed
	}
	return StatusSuccess
}

func (r *Report) BytesUploaded() int64 {
	return lo.SumBy(r.Files, func(t Transfer) int64 {
		return t.Size
	})
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record converts the report into its history representation.
func (r *Report) Record() storage.DeploymentRecord {
	record := storage.DeploymentRecord{
		DeploymentID: r.DeploymentID,
		Target:       r.Target,
		RemoteRoot:   r.RemoteRoot,
		Status:       r.Status(),
		Directories:  r.Directories,
		Files: lo.Map(r.Files, func(t Transfer, _ int) storage.UploadedObject {
			return storage.UploadedObject{Local: t.Local, Remote: t.Remote, Size: t.Size}
		}),
		FilesUploaded: len(r.Files),
		BytesUploaded: r.BytesUploaded(),
		StartedAt:     r.StartedAt.Unix(),
		FinishedAt:    r.FinishedAt.Unix(),
	}
	if r.Err != nil {
		record.Error = r.Err.Error()
	}
	return record
}
