package sftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/tools"
)

// Sessions serves the sftp requests of one ssh user over the shared directory tree.
// Every request resolves its absolute path from the root.
type Sessions struct {
	root     filesystem.Directory
	logger   *slog.Logger
	username string
}

// NewFileSys returns the request server handlers for root
func NewFileSys(root filesystem.Directory, username string, logger *slog.Logger) sftp.Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Sessions{
		root:     root,
		logger:   logger.With("ssh-User", username),
		username: username,
	}
	return sftp.Handlers{
		FileGet:  v,
		FilePut:  v,
		FileCmd:  v,
		FileList: v,
	}
}

func (s *Sessions) logRequest(name string, request *sftp.Request) {
	s.logger.Debug(name,
		"request.Method:", request.Method,
		"request.Filepath:", request.Filepath,
		"request.Attrs:", tools.IsPrintable(request.Attrs),
		"request.Flags:", request.Flags,
		"request.Target:", request.Target,
	)
}

// navigator returns a navigator at the root, request paths are absolute
func (s *Sessions) navigator() *filesystem.Navigator {
	return filesystem.NewNavigator(s.root)
}

// statusError maps filesystem errors to sftp status codes
func statusError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, filesystem.ErrNotFound),
		errors.Is(err, filesystem.ErrNotDirectory),
		errors.Is(err, filesystem.ErrNotFile):
		return sftp.ErrSSHFxNoSuchFile
	case errors.Is(err, filesystem.ErrReadOnly):
		return sftp.ErrSSHFxPermissionDenied
	case errors.Is(err, filesystem.ErrAlreadyOpen),
		errors.Is(err, filesystem.ErrExist),
		errors.Is(err, filesystem.ErrInvalidName):
		return sftp.ErrSSHFxFailure
	}
	return err
}

// fileReader serves a snapshot of the file, the open flag is held until the handle closes
type fileReader struct {
	*bytes.Reader
	release func()
}

func (r *fileReader) Close() error {
	r.release()
	return nil
}

func (s *Sessions) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	s.logRequest("Fileread", request)

	file, err := s.navigator().LookupFile(request.Filepath)
	if err != nil {
		return nil, statusError(err)
	}
	release, err := filesystem.OpenForRead(file)
	if err != nil {
		s.logger.Info("file busy", "file", request.Filepath)
		return nil, statusError(err)
	}
	data, err := file.Read()
	if err != nil {
		release()
		s.logger.Error("error reading file", "error", err)
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return &fileReader{Reader: bytes.NewReader(data), release: release}, nil
}

// fileWriter collects WriteAt calls and stores the content once the handle closes.
// Writes that would grow the file past filesystem.MaxFileSize fail.
type fileWriter struct {
	mu     sync.Mutex
	buf    []byte
	file   filesystem.File
	logger *slog.Logger
}

func (w *fileWriter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > filesystem.MaxFileSize-int64(len(p)) {
		w.logger.Warn("write outside the file size limit", "file", w.file.Name(), "offset", off, "length", len(p))
		return 0, sftp.ErrSSHFxFailure
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	end := int(off) + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[off:], p)
	return len(p), nil
}

func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.file.Close()
	if err := w.file.Write(w.buf); err != nil {
		w.logger.Error("error writing file", "file", w.file.Name(), "error", err)
		return fmt.Errorf("error writing file: %w", err)
	}
	w.logger.Info("transfer complete", "operation", "Put", "file", w.file.Name(), "bytes", len(w.buf))
	return nil
}

func (s *Sessions) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	s.logRequest("Filewrite", request)

	dir, name, err := s.navigator().LookupParent(request.Filepath)
	if err != nil {
		return nil, statusError(err)
	}
	file, err := s.openOrCreate(dir, name)
	if err != nil {
		s.logger.Error("error opening file", "error", err)
		return nil, statusError(err)
	}
	if err := file.Open(); err != nil {
		return nil, statusError(err)
	}
	w := &fileWriter{file: file, logger: s.logger}
	if !request.Pflags().Trunc {
		// without O_TRUNC the bytes that are not overwritten are kept
		if data, err := file.Read(); err == nil {
			w.buf = data
		}
	}
	return w, nil
}

func (s *Sessions) openOrCreate(dir filesystem.Directory, name string) (filesystem.File, error) {
	entry, err := filesystem.Child(dir, name)
	if err == nil {
		file, ok := entry.(filesystem.File)
		if !ok {
			return nil, filesystem.ErrNotFile
		}
		return file, nil
	}
	if !errors.Is(err, filesystem.ErrNotFound) {
		return nil, err
	}
	creator, ok := dir.(filesystem.Creator)
	if !ok {
		return nil, filesystem.ErrReadOnly
	}
	return creator.CreateFile(name)
}

func (s *Sessions) Filecmd(request *sftp.Request) error {
	s.logRequest("Filecmd", request)

	switch request.Method {
	case MethodSetstat:
		// times and modes are not stored, clients set them after every upload
		return nil

	case MethodMkdir:
		dir, name, err := s.navigator().LookupParent(request.Filepath)
		if err != nil {
			return statusError(err)
		}
		creator, ok := dir.(filesystem.Creator)
		if !ok {
			return sftp.ErrSSHFxPermissionDenied
		}
		_, err = creator.MakeDirectory(name)
		return statusError(err)

	case MethodRename, MethodRmdir, MethodRemove, MethodLink, MethodSymlink:
		return sftp.ErrSSHFxOpUnsupported
	}

	return sftp.ErrSSHFxOpUnsupported
}

// fileInfo adapts a filesystem.Entry to os.FileInfo
type fileInfo struct {
	entry filesystem.Entry
}

func (fi fileInfo) Name() string {
	if d, ok := fi.entry.(filesystem.Directory); ok && d.Parent() == nil {
		return "/"
	}
	return fi.entry.Name()
}

func (fi fileInfo) Size() int64 {
	if f, ok := fi.entry.(filesystem.File); ok {
		return f.Size()
	}
	return 0
}

func (fi fileInfo) Mode() fs.FileMode {
	if fi.IsDir() {
		return fs.ModeDir | 0755
	}
	return 0644
}

func (fi fileInfo) ModTime() time.Time { return fi.entry.ModTime() }
func (fi fileInfo) IsDir() bool {
	_, ok := fi.entry.(filesystem.Directory)
	return ok
}
func (fi fileInfo) Sys() any { return nil }

type ListerAt []os.FileInfo

// ListAt Modeled after strings.Reader's ReadAt() implementation
func (f ListerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	var n int
	if offset >= int64(len(f)) {
		return 0, io.EOF
	}
	n = copy(ls, f[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Sessions) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	s.logRequest("Filelist", request)

	nav := s.navigator()
	switch request.Method {
	case MethodList:
		if err := nav.ChangePath(request.Filepath); err != nil {
			s.logger.Debug("Filelist error", "error", err)
			return nil, statusError(err)
		}
		entries, err := nav.Entries()
		if err != nil {
			s.logger.Error("Filelist error", "error", err)
			return nil, fmt.Errorf("fileList error: %w", err)
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, entry := range entries {
			infos = append(infos, fileInfo{entry: entry})
		}
		return ListerAt(infos), nil

	case MethodStat, MethodLstat:
		entry, err := nav.Lookup(request.Filepath)
		if err != nil {
			s.logger.Debug("fileStat error", "error", err)
			return nil, statusError(err)
		}
		return ListerAt{fileInfo{entry: entry}}, nil

	case MethodReadlink:
		return nil, sftp.ErrSSHFxOpUnsupported
	}

	return nil, sftp.ErrSSHFxOpUnsupported
}
