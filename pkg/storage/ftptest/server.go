// Package ftptest runs an in-memory FTP server for tests.
package ftptest

import (
	"crypto/tls"
	"net"
	"strconv"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

type (
	// Server accepts a single user and serves a shared in-memory filesystem.
	Server struct {
		Fs       afero.Fs
		Username string
		Password string

		server *ftpserver.FtpServer
	}

	driver struct {
		srv *Server
	}
)

var ErrBadCredentials = eris.New("invalid credentials")

// NewServer starts listening on a random loopback port.
func NewServer(username, password string) (*Server, error) {
	s := &Server{
		Fs:       afero.NewMemMapFs(),
		Username: username,
		Password: password,
	}
	s.server = ftpserver.NewFtpServer(&driver{srv: s})
	err := s.server.Listen()
	if err != nil {
		return nil, eris.Wrap(err, "failed to listen")
	}
	go func() {
		_ = s.server.Serve()
	}()
	return s, nil
}

func (s *Server) Addr() string {
	return s.server.Addr()
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

func (s *Server) ReadFile(p string) ([]byte, error) {
	return afero.ReadFile(s.Fs, p)
}

func (s *Server) WriteFile(p string, data []byte) error {
	return afero.WriteFile(s.Fs, p, data, 0o644)
}

func (s *Server) Close() error {
	return s.server.Stop()
}

func (d *driver) GetSettings() (*ftpserver.Settings, error) {
	return &ftpserver.Settings{
		ListenAddr: "127.0.0.1:0",
	}, nil
}

func (d *driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	return "ftptest", nil
}

func (d *driver) ClientDisconnected(cc ftpserver.ClientContext) {}

func (d *driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	if user != d.srv.Username || pass != d.srv.Password {
		return nil, ErrBadCredentials
	}
	return d.srv.Fs, nil
}

func (d *driver) GetTLSConfig() (*tls.Config, error) {
	return nil, eris.New("tls not supported")
}
