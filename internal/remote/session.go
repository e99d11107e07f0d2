package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jlaffaye/ftp"
)

// ErrAuthentication is returned when the remote server rejects the credentials.
var ErrAuthentication = errors.New("remote authentication failed")

// Session is one stateful connection to the remote store. All paths passed
// to it by this package are absolute, so the working directory is only
// changed to probe for directories.
//
// *ftp.ServerConn satisfies this interface.
type Session interface {
	ChangeDir(path string) error
	CurrentDir() (string, error)
	MakeDir(path string) error
	NameList(path string) ([]string, error)
	FileSize(path string) (int64, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	RemoveDir(path string) error
	Quit() error
}

// Dialer opens authenticated sessions
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// FTPDialer dials an FTP server in passive mode and logs in
type FTPDialer struct {
	Addr        string // host:port
	Username    string
	Password    string
	Timeout     time.Duration
	ExplicitTLS bool
	DisableEPSV bool
}

// Dial connects and authenticates. A rejected login is reported as ErrAuthentication.
func (d *FTPDialer) Dial(ctx context.Context) (Session, error) {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(d.Timeout),
		ftp.DialWithDisabledEPSV(d.DisableEPSV),
	}
	if d.ExplicitTLS {
		host, _, err := net.SplitHostPort(d.Addr)
		if err != nil {
			host = d.Addr
		}
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
	}

	conn, err := ftp.Dial(d.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Addr, err)
	}

	if err := conn.Login(d.Username, d.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("%w: %s@%s: %v", ErrAuthentication, d.Username, d.Addr, err)
	}

	return conn, nil
}
