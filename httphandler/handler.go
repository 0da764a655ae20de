// http-handler handler to serve the virtual directory tree

package httphandler

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/telebroad/vfsftpd/filesystem"
	"github.com/telebroad/vfsftpd/users"
)

// FileServer is a httphandler handler to serve the files of a directory tree
type FileServer struct {
	// the virtual directory is stripped from the URL to find the path in the tree
	virtualDir string
	root       filesystem.Directory
	mux        *http.ServeMux
	logger     *slog.Logger
	users      users.Authenticator
}

func (s *FileServer) SetLogger(l *slog.Logger) {
	s.logger = l
}
func (s *FileServer) Logger() *slog.Logger {
	if s.logger == nil {
		return slog.Default().With("module", "http-server-handler")
	}
	return s.logger
}

// ServeHTTP serves the httphandler request implementing the httphandler.Handler interface
func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.users != nil {
		username, password, ok := r.BasicAuth()
		if !ok || !s.users.Authenticate(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized!", http.StatusUnauthorized)
			return
		}
	}
	s.Logger().Debug("ServeHTTP", "method", r.Method, "url", r.URL.String(), "remote", r.RemoteAddr, "user-agent", r.UserAgent())

	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut:
		s.mux.ServeHTTP(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", "GET, HEAD, PUT")
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// treePath turns the URL path below the virtual directory into an absolute tree path
func (s *FileServer) treePath(urlPath string) string {
	return path.Clean("/" + strings.TrimPrefix(urlPath, s.virtualDir))
}

var (
	//go:embed directory.gohtml
	directoryTemplate string

	directoryHTML = template.Must(template.New("directory.gohtml").Parse(directoryTemplate))
)

func (s *FileServer) generateCustomDirectoryHTML(w http.ResponseWriter, dir filesystem.Directory, displayDir string) {
	type FileInfo struct {
		Name  string
		URL   string
		IsDir bool
	}

	type DirectoryData struct {
		Path  string
		Files []FileInfo
	}

	files, err := dir.Entries()
	if err != nil {
		s.Logger().Error("Unable to read directory", "error", err)
		http.Error(w, "Unable to read directory", http.StatusInternalServerError)
		return
	}

	var fileInfos []FileInfo
	if displayDir != "/" {
		fileInfos = append(fileInfos, FileInfo{Name: "..", URL: "../", IsDir: true})
	}
	for _, file := range files {
		_, isDir := file.(filesystem.Directory)
		urlPath := url.PathEscape(file.Name())
		if isDir {
			urlPath = urlPath + "/"
		}
		fileInfos = append(fileInfos, FileInfo{
			Name:  file.Name(),
			URL:   urlPath,
			IsDir: isDir,
		})
	}

	data := DirectoryData{
		Path:  displayDir,
		Files: fileInfos,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := directoryHTML.Execute(w, data); err != nil {
		s.Logger().Error("Unable to render directory", "error", err)
	}
}

// Get serves a file's content or a directory's index
func (s *FileServer) Get(w http.ResponseWriter, r *http.Request) {
	p := s.treePath(r.URL.Path)
	entry, err := filesystem.NewNavigator(s.root).Lookup(p)
	if err != nil {
		http.Error(w, "path `"+p+"` File not found", http.StatusNotFound)
		return
	}
	if dir, ok := entry.(filesystem.Directory); ok {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, path.Base(r.URL.Path)+"/", http.StatusMovedPermanently)
			return
		}
		s.generateCustomDirectoryHTML(w, dir, p)
		return
	}

	file := entry.(filesystem.File)
	release, err := filesystem.OpenForRead(file)
	if err != nil {
		http.Error(w, "path `"+p+"` File busy", http.StatusConflict)
		return
	}
	defer release()
	data, err := file.Read()
	if err != nil {
		s.Logger().Error("error reading file", "file", p, "error", err)
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(p))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Last-Modified", file.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// Put stores the request body as the file, missing files are created
func (s *FileServer) Put(w http.ResponseWriter, r *http.Request) {
	p := s.treePath(r.URL.Path)
	dir, name, err := filesystem.NewNavigator(s.root).LookupParent(p)
	if err != nil || name == "" {
		http.Error(w, "path `"+p+"` Directory not found", http.StatusNotFound)
		return
	}

	status := http.StatusOK
	var file filesystem.File
	var creator filesystem.Creator
	entry, err := filesystem.Child(dir, name)
	switch {
	case err == nil:
		f, ok := entry.(filesystem.File)
		if !ok {
			http.Error(w, "path `"+p+"` is a directory", http.StatusConflict)
			return
		}
		if err := f.Open(); err != nil {
			http.Error(w, "path `"+p+"` File busy", http.StatusConflict)
			return
		}
		defer f.Close()
		file = f
	case errors.Is(err, filesystem.ErrNotFound):
		c, ok := dir.(filesystem.Creator)
		if !ok {
			http.Error(w, "Permission denied", http.StatusForbidden)
			return
		}
		creator = c
		status = http.StatusCreated
	default:
		http.Error(w, "Error reading directory", http.StatusInternalServerError)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, filesystem.MaxFileSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	// a missing file is only created once the whole body arrived
	if file == nil {
		if file, err = creator.CreateFile(name); err != nil {
			http.Error(w, "Error creating file", http.StatusInternalServerError)
			return
		}
		if err := file.Open(); err != nil {
			http.Error(w, "path `"+p+"` File busy", http.StatusConflict)
			return
		}
		defer file.Close()
	}
	if err := file.Write(data); err != nil {
		http.Error(w, "Error writing file", http.StatusInternalServerError)
		return
	}
	s.Logger().Info("transfer complete", "operation", "PUT", "file", p, "bytes", len(data))
	w.WriteHeader(status)
	fmt.Fprintf(w, "File %s updated", p)
}

// NewFileServerHandler creates a new httphandler handler to serve the tree under root.
// The pattern is the virtual directory to serve, it is stripped from the URL in the handler.
// A nil auth serves without credentials.
func NewFileServerHandler(pattern string, root filesystem.Directory, auth users.Authenticator) *FileServer {
	s := &FileServer{
		virtualDir: strings.TrimSuffix(path.Clean(pattern), "/") + "/",
		root:       root,
		mux:        http.NewServeMux(),
		users:      auth,
	}

	s.mux.HandleFunc("GET /{pathname...}", s.Get)
	s.mux.HandleFunc("PUT /{pathname...}", s.Put)

	return s
}
