package deployer

import (
	"fmt"
	"path"
	"strings"

	"github.com/TheStatisticalMind/site-deployer/pkg/config"
	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/storage"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

type (
	Config struct {
		LocalRoot   string   `mapstructure:"localRoot" yaml:"localRoot" validate:"required"`
		Target      Target   `mapstructure:"target" yaml:"target"`
		Directories []string `mapstructure:"directories" yaml:"directories,omitempty"`
		Uploads     []Upload `mapstructure:"uploads" yaml:"uploads" validate:"min=1,dive"`
		History     History  `mapstructure:"history" yaml:"history"`
	}

	// Target is the remote host. Exactly one backend must be enabled.
	Target struct {
		RemoteRoot    string             `mapstructure:"remoteRoot" yaml:"remoteRoot" validate:"required,startswith=/"`
		CreateParents bool               `mapstructure:"createParents" yaml:"createParents"`
		FTP           storage.FTPConfig  `mapstructure:"ftp" yaml:"ftp"`
		SFTP          storage.SFTPConfig `mapstructure:"sftp" yaml:"sftp"`
		S3            storage.S3Config   `mapstructure:"s3" yaml:"s3"`
	}

	// Upload maps a path under LocalRoot to a path under Target.RemoteRoot.
	// A local directory is uploaded recursively.
	Upload struct {
		Local  string `mapstructure:"local" yaml:"local" validate:"required"`
		Remote string `mapstructure:"remote" yaml:"remote" validate:"required"`
	}

	History struct {
		DynamoDB storage.DynamoDBConfig `mapstructure:"dynamodb" yaml:"dynamodb"`
	}
)

const (
	TargetFTP  = "ftp"
	TargetSFTP = "sftp"
	TargetS3   = "s3"

	DefaultPassword = "CHANGE_ME"
)

// SecretKeys are the config keys that may be supplied only through the
// environment, e.g. DEPLOYER_TARGET_FTP_PASSWORD.
var SecretKeys = []string{
	"target.ftp.password",
	"target.sftp.password",
}

var example = Config{
	LocalRoot: "/home/deploy/the-statistical-mind-dashboard",
	Target: Target{
		RemoteRoot:    "/public_html/3030-dashboard",
		CreateParents: true,
		FTP: storage.FTPConfig{
			Enabled:  true,
			Host:     "203.0.113.10",
			Port:     storage.DefaultFTPPort,
			Username: "deploy-user",
			Password: DefaultPassword,
			Timeout:  storage.DefaultTimeout,
		},
		SFTP: storage.SFTPConfig{
			Port:    storage.DefaultSFTPPort,
			Timeout: storage.DefaultTimeout,
		},
	},
	Directories: []string{"assets", "demos"},
	Uploads: []Upload{
		{Local: "dist/index.html", Remote: "index.html"},
		{Local: "dist/assets/index-OEziLmGG.js", Remote: "assets/index-OEziLmGG.js"},
		{Local: "dist/demos/story-of-uncertainty", Remote: "demos/story-of-uncertainty"},
	},
	History: History{
		DynamoDB: storage.DynamoDBConfig{
			TableName:              "site-deployments",
			CreateMissingResources: true,
		},
	},
}

func CreateExample(outputDir string) (string, error) {
	return config.CreateExample(outputDir, &example)
}

// LoadConfig decodes and validates the settings held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{}
	err := config.Unmarshal(v, &cfg)
	if err != nil {
		return cfg, err
	}
	return cfg, ValidateConfig(&cfg)
}

func ValidateConfig(cfg *Config) error {
	err := config.ValidateStruct(cfg)
	if err != nil {
		return err
	}

	_, err = cfg.Target.Name()
	if err != nil {
		return err
	}
	if cfg.Target.FTP.Enabled && cfg.Target.FTP.Password == DefaultPassword ||
		cfg.Target.SFTP.Enabled && cfg.Target.SFTP.Password == DefaultPassword {
		return pkgerrors.DefaultPasswordError
	}

	for _, dir := range cfg.Directories {
		err = validateRemotePath(dir)
		if err != nil {
			return err
		}
	}
	for _, upload := range cfg.Uploads {
		err = validateRemotePath(upload.Remote)
		if err != nil {
			return err
		}
	}

	return nil
}

// validateRemotePath accepts only paths that stay under the remote root.
func validateRemotePath(remote string) error {
	if path.IsAbs(remote) {
		return pkgerrors.NewInvalidRemotePathWithReasonError(remote, "must be relative to the remote root")
	}
	cleaned := path.Clean(remote)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return pkgerrors.NewInvalidRemotePathWithReasonError(remote, "escapes the remote root")
	}
	return nil
}

// Name returns the enabled backend.
func (t Target) Name() (string, error) {
	enabled := make([]string, 0, 1)
	if t.FTP.Enabled {
		enabled = append(enabled, TargetFTP)
	}
	if t.SFTP.Enabled {
		enabled = append(enabled, TargetSFTP)
	}
	if t.S3.Enabled {
		enabled = append(enabled, TargetS3)
	}
	switch len(enabled) {
	case 0:
		return "", pkgerrors.NoTargetEnabledError
	case 1:
		return enabled[0], nil
	default:
		return "", eris.Wrap(pkgerrors.MultipleTargetsEnabledError, strings.Join(enabled, ", "))
	}
}

// Description renders the target as a URL without credentials.
func (t Target) Description() string {
	name, err := t.Name()
	if err != nil {
		return "unknown"
	}
	switch name {
	case TargetFTP:
		return fmt.Sprintf("ftp://%s@%s%s", t.FTP.Username, t.FTP.Address(), t.RemoteRoot)
	case TargetSFTP:
		return fmt.Sprintf("sftp://%s@%s%s", t.SFTP.Username, t.SFTP.Address(), t.RemoteRoot)
	default:
		return fmt.Sprintf("s3://%s%s", t.S3.Bucket, t.RemoteRoot)
	}
}

// NeedsPassword reports whether the enabled FTP or SFTP backend has no way
// to authenticate yet.
func (t Target) NeedsPassword() bool {
	switch {
	case t.FTP.Enabled:
		return t.FTP.Password == ""
	case t.SFTP.Enabled:
		return t.SFTP.Password == "" && t.SFTP.PrivateKeyFile == ""
	default:
		return false
	}
}

// SetPassword stores password on the enabled FTP or SFTP backend.
func (t *Target) SetPassword(password string) {
	switch {
	case t.FTP.Enabled:
		t.FTP.Password = password
	case t.SFTP.Enabled:
		t.SFTP.Password = password
	}
}
