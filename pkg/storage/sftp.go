package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	gosftp "github.com/pkg/sftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type (
	sftp struct {
		cfg       SFTPConfig
		sshClient *ssh.Client
		client    *gosftp.Client
		// SFTP has no server-side working directory, so it is tracked here.
		cwd string
	}

	SFTPConfig struct {
		Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
		Host           string        `mapstructure:"host" yaml:"host" validate:"required_if=Enabled true"`
		Port           int           `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
		Username       string        `mapstructure:"username" yaml:"username" validate:"required_if=Enabled true"`
		Password       string        `mapstructure:"password" yaml:"password"`
		PrivateKeyFile string        `mapstructure:"privateKeyFile" yaml:"privateKeyFile"`
		KnownHostsFile string        `mapstructure:"knownHostsFile" yaml:"knownHostsFile"`
		Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	}
)

const DefaultSFTPPort = 22

var _ Storage = &sftp{}

func NewSFTPStorage(cfg SFTPConfig) (Storage, error) {
	return &sftp{cfg: cfg}, nil
}

func (c SFTPConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultSFTPPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (s *sftp) Connect(ctx context.Context) error {
	if s.client == nil {
		err := s.dial(ctx)
		if err != nil {
			return err
		}
	}
	cwd, err := s.client.Getwd()
	if err != nil {
		return eris.Wrap(err, "failed to read remote working directory")
	}
	s.cwd = cwd
	log.FromCtx(ctx).Info("Connected to SFTP server", zap.String("address", s.cfg.Address()), zap.String("username", s.cfg.Username))
	return nil
}

func (s *sftp) dial(ctx context.Context) error {
	clientCfg, err := s.clientConfig(ctx)
	if err != nil {
		return err
	}

	addr := s.cfg.Address()
	dialer := net.Dialer{Timeout: clientCfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "failed to connect to %s", addr)
	}
	s.sshClient, err = handshake(conn, addr, clientCfg)
	if err != nil {
		return eris.Wrapf(err, "failed to log in to %s as %s", addr, s.cfg.Username)
	}

	client, err := gosftp.NewClient(s.sshClient)
	if err != nil {
		s.sshClient.Close()
		s.sshClient = nil
		return eris.Wrap(err, "failed to start sftp subsystem")
	}
	s.client = client
	return nil
}

// handshake runs the SSH handshake on conn. cfg.Timeout bounds the whole
// handshake, not just the dial. conn is closed on failure.
func handshake(conn net.Conn, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	if cfg.Timeout > 0 {
		err := conn.SetDeadline(time.Now().Add(cfg.Timeout))
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	err = conn.SetDeadline(time.Time{})
	if err != nil {
		sshConn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (s *sftp) clientConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	auth := make([]ssh.AuthMethod, 0, 2)
	if s.cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(s.cfg.PrivateKeyFile)
		if err != nil {
			return nil, eris.Wrap(err, "failed to read private key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, eris.Wrap(err, "failed to parse private key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, eris.Wrap(err, "failed to load known hosts")
		}
		hostKeyCallback = cb
	} else {
		log.FromCtx(ctx).Warn("No known hosts file configured, host key is not verified", zap.String("host", s.cfg.Host))
	}

	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &ssh.ClientConfig{
		User:            s.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (s *sftp) ChangeDir(ctx context.Context, dir string) error {
	if s.client == nil {
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
	log.FromCtx(ctx).Debug("Changed remote directory", zap.String("remote", s.cwd))
	return nil
}

func (s *sftp) MakeDir(ctx context.Context, dir string) error {
	if s.client == nil {
		return pkgerrors.NotConnectedError
	}
	return s.client.Mkdir(resolve(s.cwd, dir))
}

func (s *sftp) Stat(ctx context.Context, p string) (*RemoteEntry, error) {
	if s.client == nil {
		return nil, pkgerrors.NotConnectedError
	}
	target := resolve(s.cwd, p)
	info, err := s.client.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, eris.Wrap(pkgerrors.RemoteNotFoundError, target)
		}
		return nil, eris.Wrapf(err, "failed to stat %s", target)
	}
	return &RemoteEntry{
		Name:  info.Name(),
		Path:  target,
		IsDir: info.IsDir(),
		Size:  info.Size(),
	}, nil
}

func (s *sftp) Store(ctx context.Context, name string, file *fs.File) error {
	if s.client == nil {
		return pkgerrors.NotConnectedError
	}
	local, err := openLocal(file)
	if err != nil {
		return err
	}
	defer local.Close()

	target := resolve(s.cwd, name)
	log.FromCtx(ctx).Sugar().Debugf("Uploading %s to %s", file.Absolute, target)
	remote, err := s.client.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return eris.Wrapf(err, "failed to open remote file %s", target)
	}
	_, err = io.Copy(remote, local)
	if err != nil {
		remote.Close()
		return eris.Wrapf(err, "failed to upload %s", target)
	}
	err = remote.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to finish upload of %s", target)
	}
	return nil
}

func (s *sftp) Close() error {
	var err error
	if s.client != nil {
		err = s.client.Close()
		s.client = nil
	}
	if s.sshClient != nil {
		sshErr := s.sshClient.Close()
		if err == nil {
			err = sshErr
		}
		s.sshClient = nil
	}
	return err
}
