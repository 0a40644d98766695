package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	goftp "github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type (
	ftp struct {
		cfg  FTPConfig
		conn *goftp.ServerConn
	}

	FTPConfig struct {
		Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
		Host        string        `mapstructure:"host" yaml:"host" validate:"required_if=Enabled true"`
		Port        int           `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
		Username    string        `mapstructure:"username" yaml:"username" validate:"required_if=Enabled true"`
		Password    string        `mapstructure:"password" yaml:"password"`
		Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
		ExplicitTLS bool          `mapstructure:"explicitTLS" yaml:"explicitTLS"`
		DisableEPSV bool          `mapstructure:"disableEPSV" yaml:"disableEPSV"`
	}
)

const (
	DefaultFTPPort = 21
	DefaultTimeout = 30 * time.Second
)

var _ Storage = &ftp{}

func NewFTPStorage(cfg FTPConfig) (Storage, error) {
	return &ftp{cfg: cfg}, nil
}

func (c FTPConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultFTPPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (f *ftp) Connect(ctx context.Context) error {
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	opts := []goftp.DialOption{
		goftp.DialWithContext(ctx),
		goftp.DialWithTimeout(timeout),
		goftp.DialWithDisabledEPSV(f.cfg.DisableEPSV),
	}
	if f.cfg.ExplicitTLS {
		opts = append(opts, goftp.DialWithExplicitTLS(&tls.Config{
			ServerName: f.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}

	addr := f.cfg.Address()
	conn, err := goftp.Dial(addr, opts...)
	if err != nil {
		return eris.Wrapf(err, "failed to connect to %s", addr)
	}
	err = conn.Login(f.cfg.Username, f.cfg.Password)
	if err != nil {
		_ = conn.Quit()
		return eris.Wrapf(err, "failed to log in to %s as %s", addr, f.cfg.Username)
	}
	f.conn = conn

	log.FromCtx(ctx).Info("Connected to FTP server", zap.String("address", addr), zap.String("username", f.cfg.Username))
	return nil
}

func (f *ftp) ChangeDir(ctx context.Context, dir string) error {
	if f.conn == nil {
		return pkgerrors.NotConnectedError
	}
	err := f.conn.ChangeDir(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to change remote directory to %s", dir)
	}
	log.FromCtx(ctx).Debug("Changed remote directory", zap.String("remote", dir))
	return nil
}

func (f *ftp) MakeDir(ctx context.Context, dir string) error {
	if f.conn == nil {
		return pkgerrors.NotConnectedError
	}
	return f.conn.MakeDir(dir)
}

// Stat probes directories with CWD, which every server supports, and falls
// back to listing the parent for files. MLST support is too patchy to rely on.
func (f *ftp) Stat(ctx context.Context, p string) (*RemoteEntry, error) {
	if f.conn == nil {
		return nil, pkgerrors.NotConnectedError
	}
	p = path.Clean(p)
	if p == "/" {
		return &RemoteEntry{Name: "/", Path: "/", IsDir: true}, nil
	}

	isDir, err := f.isDir(p)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to probe %s", p)
	}
	if isDir {
		return &RemoteEntry{Name: path.Base(p), Path: p, IsDir: true}, nil
	}

	parent := path.Dir(p)
	entries, err := f.conn.List(parent)
	if err != nil {
		if isPermanentReply(err) {
			return nil, eris.Wrap(pkgerrors.RemoteNotFoundError, p)
		}
		return nil, eris.Wrapf(err, "failed to list %s", parent)
	}
	name := path.Base(p)
	for _, e := range entries {
		if path.Base(e.Name) != name {
			continue
		}
		return &RemoteEntry{
			Name:  name,
			Path:  p,
			IsDir: e.Type == goftp.EntryTypeFolder,
			Size:  int64(e.Size),
		}, nil
	}
	return nil, eris.Wrap(pkgerrors.RemoteNotFoundError, p)
}

func (f *ftp) Store(ctx context.Context, name string, file *fs.File) error {
	if f.conn == nil {
		return pkgerrors.NotConnectedError
	}
	local, err := openLocal(file)
	if err != nil {
		return err
	}
	defer local.Close()

	log.FromCtx(ctx).Sugar().Debugf("Uploading %s to %s", file.Absolute, name)
	err = f.conn.Stor(name, local)
	if err != nil {
		return eris.Wrapf(err, "failed to upload %s", name)
	}
	return nil
}

func (f *ftp) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

// isDir reports whether p can be entered, restoring the working directory
// afterwards.
func (f *ftp) isDir(p string) (bool, error) {
	cwd, err := f.conn.CurrentDir()
	if err != nil {
		return false, err
	}
	err = f.conn.ChangeDir(p)
	if err != nil {
		if isPermanentReply(err) {
			return false, nil
		}
		return false, err
	}
	return true, f.conn.ChangeDir(cwd)
}

// isPermanentReply matches 5xx replies such as 550 "No such file or
// directory".
func isPermanentReply(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500 && protoErr.Code < 600
}
