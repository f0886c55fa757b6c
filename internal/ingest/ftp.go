package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"
)

const ftpTimeout = 30 * time.Second

type ftpEntry struct {
	Name string
	File bool
}

// ftpConn is the subset of *ftp.ServerConn used by FTPSource.
type ftpConn interface {
	Login(user, password string) error
	List(dir string) ([]ftpEntry, error)
	Retr(file string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct {
	c *ftp.ServerConn
}

func (s serverConn) Login(user, password string) error { return s.c.Login(user, password) }
func (s serverConn) Quit() error                       { return s.c.Quit() }

func (s serverConn) List(dir string) ([]ftpEntry, error) {
	entries, err := s.c.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]ftpEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ftpEntry{Name: e.Name, File: e.Type == ftp.EntryTypeFile})
	}
	return out, nil
}

func (s serverConn) Retr(file string) (io.ReadCloser, error) {
	return s.c.Retr(file)
}

// FTPSource downloads station CSV files from an FTP archive such as
// ftp://host/path/to/stations.
type FTPSource struct {
	URL    *url.URL
	logger *zap.Logger
	dial   func(ctx context.Context, addr string) (ftpConn, error)
}

// IsRemote reports whether an observation location is an ftp:// URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(strings.ToLower(location), "ftp://")
}

func NewFTPSource(rawURL string, logger *zap.Logger) (*FTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "ftp" || u.Host == "" {
		return nil, fmt.Errorf("invalid ftp url %q", rawURL)
	}
	if u.Port() == "" {
		u.Host += ":21"
	}
	return &FTPSource{
		URL:    u,
		logger: logger.Named("ftp"),
		dial: func(ctx context.Context, addr string) (ftpConn, error) {
			c, err := ftp.Dial(addr, ftp.DialWithTimeout(ftpTimeout), ftp.DialWithContext(ctx))
			if err != nil {
				return nil, err
			}
			return serverConn{c: c}, nil
		},
	}, nil
}

// Fetch copies every *.csv file in the remote directory into dir and returns
// the local paths in listing order.
func (s *FTPSource) Fetch(ctx context.Context, dir string) ([]string, error) {
	conn, err := s.dial(ctx, s.URL.Host)
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", s.URL.Host, err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if s.URL.User != nil {
		user = s.URL.User.Username()
		if p, ok := s.URL.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	remoteDir := s.URL.Path
	if remoteDir == "" {
		remoteDir = "/"
	}
	entries, err := conn.List(remoteDir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", remoteDir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.File || !strings.EqualFold(filepath.Ext(e.Name), ".csv") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local := filepath.Join(dir, path.Base(e.Name))
		if err := s.download(conn, path.Join(remoteDir, path.Base(e.Name)), local); err != nil {
			return nil, err
		}
		files = append(files, local)
	}

	s.logger.Info("fetched station files",
		zap.String("host", s.URL.Host),
		zap.String("dir", remoteDir),
		zap.Int("files", len(files)))
	return files, nil
}

func (s *FTPSource) download(conn ftpConn, remote, local string) error {
	resp, err := conn.Retr(remote)
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", remote, err)
	}
	defer resp.Close()

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", remote, err)
	}
	return f.Close()
}
