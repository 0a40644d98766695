package deployer

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage"
	"github.com/TheStatisticalMind/site-deployer/pkg/telemetry"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type (
	Deployer interface {
		// Deploy uploads every configured transfer. The returned report is
		// never nil and lists what was uploaded before any error.
		Deploy(ctx context.Context) (*Report, error)
		// Plan lists the transfers Deploy would perform without connecting.
		Plan(ctx context.Context) ([]Transfer, error)
	}

	// Recorder persists finished deployments.
	Recorder interface {
		RecordDeployment(ctx context.Context, record storage.DeploymentRecord) error
	}

	Option func(*deployer)

	deployer struct {
		cfg      Config
		target   string
		storage  storage.Storage
		history  Recorder
		progress func(Transfer)
	}

	// run holds the state of one Deploy call.
	run struct {
		*deployer
		report  *Report
		ensured map[string]struct{}
	}
)

var _ Deployer = &deployer{}

// WithStorage replaces the backend built from the target config.
func WithStorage(s storage.Storage) Option {
	return func(d *deployer) {
		d.storage = s
	}
}

// WithHistory replaces the DynamoDB history built from the history config.
func WithHistory(h Recorder) Option {
	return func(d *deployer) {
		d.history = h
	}
}

// WithProgress registers a callback invoked after every uploaded file.
func WithProgress(fn func(Transfer)) Option {
	return func(d *deployer) {
		d.progress = fn
	}
}

func NewDeployer(ctx context.Context, cfg Config, opts ...Option) (Deployer, error) {
	err := ValidateConfig(&cfg)
	if err != nil {
		return nil, err
	}
	target, err := cfg.Target.Name()
	if err != nil {
		return nil, err
	}

	d := &deployer{
		cfg:    cfg,
		target: target,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.storage == nil {
		s, err := newStorage(ctx, target, cfg.Target)
		if err != nil {
			return nil, err
		}
		d.storage = storage.WithTelemetry(s, target)
	}

	if d.history == nil && cfg.History.DynamoDB.Enabled {
		client, err := storage.NewDynamoDBClient(ctx, cfg.History.DynamoDB)
		if err != nil {
			return nil, err
		}
		err = client.Init(ctx)
		if err != nil {
			return nil, err
		}
		d.history = client
	}

	return d, nil
}

func newStorage(ctx context.Context, target string, cfg Target) (storage.Storage, error) {
	switch target {
	case TargetFTP:
		return storage.NewFTPStorage(cfg.FTP)
	case TargetSFTP:
		return storage.NewSFTPStorage(cfg.SFTP)
	case TargetS3:
		return storage.NewS3Storage(ctx, cfg.S3)
	default:
		return nil, pkgerrors.NoTargetEnabledError
	}
}

func (d *deployer) Deploy(ctx context.Context) (*Report, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "deployer.deploy")
	defer span.End()
	span.SetAttributes(
		attribute.String("deploy.target", d.target),
		attribute.String("deploy.remote_root", d.cfg.Target.RemoteRoot),
	)

	r := &run{
		deployer: d,
		report:   newReport(d.cfg),
		ensured:  make(map[string]struct{}),
	}
	ctx = log.ToCtx(ctx, log.FromCtx(ctx).With(zap.String("deploymentId", r.report.DeploymentID)))
	log.FromCtx(ctx).Info("Starting deployment", zap.String("target", r.report.Target))

	err := r.deploy(ctx)
	r.report.FinishedAt = time.Now()
	r.report.Err = err

	status := r.report.Status()
	telemetry.RecordDeployOperation(d.target, status)
	telemetry.RecordDeployDuration(r.report.Duration().Seconds(), d.target, status)
	telemetry.RecordDeployFilesUploaded(int64(len(r.report.Files)), d.target)
	telemetry.RecordDeployBytesUploaded(r.report.BytesUploaded(), d.target)
	span.SetAttributes(
		attribute.Int("deploy.files_uploaded", len(r.report.Files)),
		attribute.Int64("deploy.bytes_uploaded", r.report.BytesUploaded()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.FromCtx(ctx).Error("Deployment failed", zap.Error(err), zap.Int("filesUploaded", len(r.report.Files)))
	} else {
		log.FromCtx(ctx).Sugar().Infof("Deployment finished: %d files, %d bytes in %s", len(r.report.Files), r.report.BytesUploaded(), r.report.Duration())
	}

	if d.history != nil {
		historyErr := d.history.RecordDeployment(ctx, r.report.Record())
		if historyErr != nil && err == nil {
			err = eris.Wrap(historyErr, "deployment succeeded but could not be recorded")
		}
	}

	return r.report, err
}

func (r *run) deploy(ctx context.Context) error {
	err := r.storage.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := r.storage.Close()
		if closeErr != nil {
			log.FromCtx(ctx).Warn("Failed to close remote session", zap.Error(closeErr))
		}
	}()

	root := r.cfg.Target.RemoteRoot
	if r.cfg.Target.CreateParents {
		err = r.ensureDirAll(ctx, root)
		if err != nil {
			return err
		}
	}
	err = r.storage.ChangeDir(ctx, root)
	if err != nil {
		return err
	}

	for _, dir := range r.cfg.Directories {
		remote := r.remotePath(dir)
		if r.cfg.Target.CreateParents {
			err = r.ensureDirAll(ctx, remote)
		} else {
			err = r.ensureDir(ctx, remote)
		}
		if err != nil {
			return err
		}
		r.report.Directories = append(r.report.Directories, remote)
	}

	for _, upload := range r.cfg.Uploads {
		err = r.upload(ctx, upload)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) upload(ctx context.Context, upload Upload) error {
	local := r.localPath(upload.Local)
	info, err := statLocal(local)
	if err != nil {
		return err
	}
	remote := r.uploadPath(upload, local, info.IsDir())

	if info.IsDir() {
		dir, err := fs.NewDirectory(ctx, local)
		if err != nil {
			return err
		}
		return r.uploadDirectory(ctx, dir, remote)
	}

	parent := path.Dir(remote)
	if r.cfg.Target.CreateParents {
		err = r.ensureDirAll(ctx, parent)
		if err != nil {
			return err
		}
	}
	err = r.storage.ChangeDir(ctx, parent)
	if err != nil {
		return err
	}
	return r.store(ctx, fs.NewFile(local, info.Size(), info.ModTime()), remote)
}

// uploadDirectory mirrors dir at remote: its files first, sorted by name,
// then each subdirectory, returning to remote after each one.
func (r *run) uploadDirectory(ctx context.Context, dir fs.Directory, remote string) error {
	var err error
	if r.cfg.Target.CreateParents {
		err = r.ensureDirAll(ctx, remote)
	} else {
		err = r.ensureDir(ctx, remote)
	}
	if err != nil {
		return err
	}
	err = r.storage.ChangeDir(ctx, remote)
	if err != nil {
		return err
	}

	for _, file := range dir.GetFiles() {
		err = r.store(ctx, file, path.Join(remote, file.Name))
		if err != nil {
			return err
		}
	}

	subDirs, err := dir.GetSubDirectories(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subDirs {
		err = r.uploadDirectory(ctx, sub, path.Join(remote, sub.GetName()))
		if err != nil {
			return err
		}
		err = r.storage.ChangeDir(ctx, remote)
		if err != nil {
			return err
		}
	}
	return nil
}

// store writes file to remote. The working directory is already remote's
// parent.
func (r *run) store(ctx context.Context, file *fs.File, remote string) error {
	err := r.storage.Store(ctx, path.Base(remote), file)
	if err != nil {
		return err
	}
	transfer := Transfer{Local: file.Absolute, Remote: remote, Size: file.Size}
	r.report.Files = append(r.report.Files, transfer)
	log.FromCtx(ctx).Info("Uploaded file", zap.String("local", file.Absolute), zap.String("remote", remote), zap.Int64("size", file.Size))
	if r.progress != nil {
		r.progress(transfer)
	}
	return nil
}

func (r *run) ensureDir(ctx context.Context, dir string) error {
	if _, ok := r.ensured[dir]; ok {
		return nil
	}
	err := storage.EnsureDir(ctx, r.storage, dir)
	if err != nil {
		return err
	}
	r.ensured[dir] = struct{}{}
	return nil
}

func (r *run) ensureDirAll(ctx context.Context, dir string) error {
	if _, ok := r.ensured[dir]; ok {
		return nil
	}
	err := storage.EnsureDirAll(ctx, r.storage, dir)
	if err != nil {
		return err
	}
	r.ensured[dir] = struct{}{}
	return nil
}

func (d *deployer) Plan(ctx context.Context) ([]Transfer, error) {
	transfers := make([]Transfer, 0, len(d.cfg.Uploads))
	for _, upload := range d.cfg.Uploads {
		local := d.localPath(upload.Local)
		info, err := statLocal(local)
		if err != nil {
			return nil, err
		}
		remote := d.uploadPath(upload, local, info.IsDir())
		if !info.IsDir() {
			transfers = append(transfers, Transfer{Local: local, Remote: remote, Size: info.Size()})
			continue
		}

		dir, err := fs.NewDirectory(ctx, local)
		if err != nil {
			return nil, err
		}
		files, err := dir.GetAllFiles(ctx)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			rel, err := filepath.Rel(local, file.Absolute)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to resolve %s", file.Absolute)
			}
			transfers = append(transfers, Transfer{
				Local:  file.Absolute,
				Remote: path.Join(remote, filepath.ToSlash(rel)),
				Size:   file.Size,
			})
		}
	}
	return transfers, nil
}

// localPath resolves p against the configured local root.
func (d *deployer) localPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(d.cfg.LocalRoot, filepath.FromSlash(p))
}

// remotePath resolves p against the remote root.
func (d *deployer) remotePath(p string) string {
	return path.Join(d.cfg.Target.RemoteRoot, p)
}

// uploadPath is the remote destination of upload. A file sent to the remote
// root itself keeps its local base name.
func (d *deployer) uploadPath(upload Upload, local string, isDir bool) string {
	if !isDir && path.Clean(upload.Remote) == "." {
		return path.Join(d.cfg.Target.RemoteRoot, filepath.Base(local))
	}
	return d.remotePath(upload.Remote)
}

func statLocal(local string) (os.FileInfo, error) {
	info, err := os.Stat(local)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrap(pkgerrors.LocalFileMissingError, local)
		}
		return nil, eris.Wrapf(err, "failed to stat %s", local)
	}
	return info, nil
}
