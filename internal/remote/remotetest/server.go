// Package remotetest provides an in-memory remote store that behaves like a
// small FTP server, for tests that exercise the reconciler and the deploy
// engine without a network.
package remotetest

import (
	"context"
	"io"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/remote"
)

// NotFound is the reply the server uses for missing paths
func NotFound(p string) error {
	return &textproto.Error{Code: remote.StatusFileUnavailable, Msg: p + ": No such file or directory"}
}

// Transient is a retryable failure reply
func Transient(p string) error {
	return &textproto.Error{Code: 421, Msg: p + ": Service not available, closing control connection"}
}

type injected struct {
	err       error
	remaining int // negative means always
}

// Server is an in-memory remote tree. It implements both remote.Dialer and
// remote.Session; every Dial returns the server itself.
type Server struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte
	cwd   string
	fails map[string]*injected

	// DialErr, when set, is returned by Dial
	DialErr error

	Dials int
	Quits int
	// Ops records every mutating call as "OP path", in order
	Ops []string
}

// New creates an empty server containing only the root directory
func New() *Server {
	return &Server{
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
		cwd:   "/",
		fails: map[string]*injected{},
	}
}

// Fail makes the next times calls of op ("STOR", "DELE", "MKD", "RMD",
// "CWD", "NLST", "SIZE") on p return err. A negative times fails forever.
func (s *Server) Fail(op, p string, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op+" "+path.Clean(p)] = &injected{err: err, remaining: times}
}

// PutFile stores a file, creating parent directories
func (s *Server) PutFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean("/" + p)
	s.mkdirAll(path.Dir(p))
	s.files[p] = append([]byte(nil), data...)
}

// PutDir creates a directory and its parents
func (s *Server) PutDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(path.Clean("/" + p))
}

// File returns the content of a stored file
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path.Clean("/"+p)]
	return data, ok
}

// HasDir reports whether the directory exists
func (s *Server) HasDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[path.Clean("/"+p)]
}

// Files returns the sorted paths of all stored files
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, 0, len(s.files))
	for p := range s.files {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Dial implements remote.Dialer
func (s *Server) Dial(_ context.Context) (remote.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dials++
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	s.cwd = "/"
	return s, nil
}

// ChangeDir implements remote.Session
func (s *Server) ChangeDir(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("CWD", p); err != nil {
		return err
	}
	if !s.dirs[p] {
		return NotFound(p)
	}
	s.cwd = p
	return nil
}

// CurrentDir implements remote.Session
func (s *Server) CurrentDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd, nil
}

// MakeDir implements remote.Session
func (s *Server) MakeDir(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("MKD", p); err != nil {
		return err
	}
	if _, isFile := s.files[p]; isFile || s.dirs[p] {
		return &textproto.Error{Code: 550, Msg: p + ": File exists"}
	}
	if !s.dirs[path.Dir(p)] {
		return NotFound(path.Dir(p))
	}
	s.dirs[p] = true
	s.Ops = append(s.Ops, "MKD "+p)
	return nil
}

// NameList implements remote.Session. Like many servers it answers an
// empty directory with an error.
func (s *Server) NameList(p string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("NLST", p); err != nil {
		return nil, err
	}
	if !s.dirs[p] {
		return nil, NotFound(p)
	}
	names := s.children(p)
	if len(names) == 0 {
		return nil, NotFound(p)
	}
	return names, nil
}

// FileSize implements remote.Session
func (s *Server) FileSize(p string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("SIZE", p); err != nil {
		return 0, err
	}
	data, ok := s.files[p]
	if !ok {
		return 0, NotFound(p)
	}
	return int64(len(data)), nil
}

// Stor implements remote.Session
func (s *Server) Stor(p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("STOR", p); err != nil {
		return err
	}
	if !s.dirs[path.Dir(p)] {
		return &textproto.Error{Code: 553, Msg: p + ": Could not create file"}
	}
	s.files[p] = data
	s.Ops = append(s.Ops, "STOR "+p)
	return nil
}

// Delete implements remote.Session
func (s *Server) Delete(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("DELE", p); err != nil {
		return err
	}
	if _, ok := s.files[p]; !ok {
		return NotFound(p)
	}
	delete(s.files, p)
	s.Ops = append(s.Ops, "DELE "+p)
	return nil
}

// RemoveDir implements remote.Session. Like IIS it will not remove the
// current working directory.
func (s *Server) RemoveDir(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.abs(p)
	if err := s.injectedErr("RMD", p); err != nil {
		return err
	}
	if !s.dirs[p] {
		return NotFound(p)
	}
	if len(s.children(p)) > 0 {
		return &textproto.Error{Code: 550, Msg: p + ": Directory not empty"}
	}
	// some servers refuse to remove the session's working directory
	if s.cwd == p || strings.HasPrefix(s.cwd, p+"/") {
		return &textproto.Error{Code: 550, Msg: p + ": Permission denied"}
	}
	delete(s.dirs, p)
	s.Ops = append(s.Ops, "RMD "+p)
	return nil
}

// Quit implements remote.Session
func (s *Server) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Quits++
	return nil
}

func (s *Server) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(s.cwd, p)
	}
	return path.Clean(p)
}

func (s *Server) mkdirAll(p string) {
	for p != "/" && !s.dirs[p] {
		s.dirs[p] = true
		p = path.Dir(p)
	}
}

// children returns the base names directly below dir
func (s *Server) children(dir string) []string {
	var names []string
	for d := range s.dirs {
		if d != dir && path.Dir(d) == dir {
			names = append(names, path.Base(d))
		}
	}
	for f := range s.files {
		if path.Dir(f) == dir {
			names = append(names, path.Base(f))
		}
	}
	sort.Strings(names)
	return names
}

func (s *Server) injectedErr(op, p string) error {
	inj, ok := s.fails[op+" "+p]
	if !ok || inj.remaining == 0 {
		return nil
	}
	if inj.remaining > 0 {
		inj.remaining--
	}
	return inj.err
}
