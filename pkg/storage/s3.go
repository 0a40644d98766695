package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type (
	// s3 treats a bucket as the remote host. Directories are key prefixes;
	// ones created in this session are remembered since S3 has no empty
	// directories.
	s3 struct {
		client             *awss3.Client
		uploader           *manager.Uploader
		cfg                S3Config
		cwd                string
		dirs               map[string]struct{}
		resourcesValidated bool
	}

	S3Config struct {
		Enabled                bool   `mapstructure:"enabled" yaml:"enabled"`
		Bucket                 string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
		Region                 string `mapstructure:"region" yaml:"region"`
		CreateMissingResources bool   `mapstructure:"createMissingResources" yaml:"createMissingResources"`
	}
)

var _ Storage = &s3{}

func NewS3Storage(ctx context.Context, cfg S3Config) (Storage, error) {
	awscfg, err := newAwsConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	client := newS3Client(awscfg)
	return &s3{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		cwd:      "/",
		dirs:     make(map[string]struct{}),
	}, nil
}

func (s *s3) Connect(ctx context.Context) error {
	// Validate required S3 resources exist
	exist, err := s.checkIfResourcesExist(ctx)
	if err != nil {
		return eris.Wrapf(err, "failed to connect to bucket %s", s.cfg.Bucket)
	}
	if exist {
		s.resourcesValidated = true
		return nil
	}

	if !s.cfg.CreateMissingResources {
		return eris.Wrapf(pkgerrors.RemoteNotFoundError, "bucket %s", s.cfg.Bucket)
	}
	err = s.createMissingResources(ctx)
	if err != nil {
		return err
	}
	s.resourcesValidated = true
	return nil
}

func (s *s3) checkIfResourcesExist(ctx context.Context) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	})
	if err == nil {
		log.FromCtx(ctx).Info("Bucket exists", zap.String("bucket", s.cfg.Bucket))
		return true, nil
	}

	var notFoundErr *types.NotFound
	if errors.As(err, &notFoundErr) {
		return false, nil
	}
	return false, err
}

func (s *s3) createMissingResources(ctx context.Context) error {
	_, err := s.client.CreateBucket(
		ctx,
		&awss3.CreateBucketInput{
			Bucket: aws.String(s.cfg.Bucket),
		})
	if err != nil {
		log.FromCtx(ctx).Error("Failed to create bucket", zap.String("bucket", s.cfg.Bucket), zap.Error(err))
		return err
	}
	log.FromCtx(ctx).Info("Successfully created bucket", zap.String("bucket", s.cfg.Bucket))
	return nil
}

func (s *s3) ChangeDir(ctx context.Context, dir string) error {
	if !s.resourcesValidated {
		return pkgerrors.NotConnectedError
	}
	entry, err := s.Stat(ctx, dir)
	if err != nil {
		return eris.Wrapf(err, "failed to change remote directory to %s", dir)
	}
	if !entry.IsDir {
		return eris.Wrap(pkgerrors.NotADirectoryError, entry.Path)
	}
	s.cwd = entry.Path
	return nil
}

func (s *s3) MakeDir(ctx context.Context, dir string) error {
	if !s.resourcesValidated {
		return pkgerrors.NotConnectedError
	}
	s.dirs[resolve(s.cwd, dir)] = struct{}{}
	return nil
}

func (s *s3) Stat(ctx context.Context, p string) (*RemoteEntry, error) {
	if !s.resourcesValidated {
		return nil, pkgerrors.NotConnectedError
	}
	target := resolve(s.cwd, p)
	if _, ok := s.dirs[target]; ok || target == "/" {
		return &RemoteEntry{Name: path.Base(target), Path: target, IsDir: true}, nil
	}

	key := objectKey(target)
	listed, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.Bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", key)
	}
	if len(listed.Contents) > 0 {
		return &RemoteEntry{Name: path.Base(target), Path: target, IsDir: true}, nil
	}

	head, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFoundErr *types.NotFound
		if errors.As(err, &notFoundErr) {
			return nil, eris.Wrap(pkgerrors.RemoteNotFoundError, target)
		}
		return nil, eris.Wrapf(err, "failed to head %s", key)
	}
	return &RemoteEntry{
		Name: path.Base(target),
		Path: target,
		Size: aws.ToInt64(head.ContentLength),
	}, nil
}

func (s *s3) Store(ctx context.Context, name string, file *fs.File) error {
	if !s.resourcesValidated {
		return pkgerrors.NotConnectedError
	}
	f, err := openLocal(file)
	if err != nil {
		return err
	}
	defer f.Close()

	key := objectKey(resolve(s.cwd, name))
	log.FromCtx(ctx).Sugar().Debugf("Uploading %s to %s/%s", file.Absolute, s.cfg.Bucket, key)

	_, err = s.uploader.Upload(
		ctx,
		&awss3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(file.ContentType()),
		},
	)
	if err != nil {
		return eris.Wrap(err, "failed to upload")
	}

	return nil
}

func (s *s3) Close() error {
	s.resourcesValidated = false
	return nil
}

// objectKey maps an absolute remote path onto a bucket key.
func objectKey(p string) string {
	return strings.TrimPrefix(path.Clean(p), "/")
}
