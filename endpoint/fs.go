package endpoint

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

// FileRenderer serves a single file with http.ServeContent. The file must
// implement io.ReadSeeker. It is closed by the EndpointHandler after
// rendering.
type FileRenderer struct {
	File fs.File
	// CacheControl is set when non-empty.
	CacheControl string
}

func (fr *FileRenderer) Close() error {
	if fr.File != nil {
		return fr.File.Close()
	}
	return nil
}

func (fr *FileRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	if fr.File == nil {
		return http.ErrMissingFile
	}
	rs, ok := fr.File.(io.ReadSeeker)
	if !ok {
		return http.ErrNotSupported
	}
	var (
		name    string
		modTime time.Time
	)
	if info, err := fr.File.Stat(); err == nil {
		name = info.Name()
		modTime = info.ModTime()
	}
	if fr.CacheControl != "" {
		w.Header().Set("Cache-Control", fr.CacheControl)
	}
	http.ServeContent(w, r, name, modTime, rs)
	return nil
}

// AppParams are the decoded params of App.Endpoint. Mount with a trailing
// wildcard such as "/{path...}".
type AppParams struct {
	Path string `path:"path"`
}

// App serves a built single-page web app. Existing files are served as is;
// any other path gets index.html so the client-side router can handle it.
type App struct {
	FS fs.FS
	// Index is the fallback document. Empty means "index.html".
	Index string
	// Reserved prefixes never fall back to the index, e.g. "api/".
	Reserved []string
}

func (a *App) index() string {
	if a.Index == "" {
		return "index.html"
	}
	return a.Index
}

// Endpoint implements EndpointFunc.
func (a *App) Endpoint(w http.ResponseWriter, r *http.Request, params AppParams) (Renderer, error) {
	if a == nil || a.FS == nil {
		return nil, Error(http.StatusInternalServerError, "", errors.New("endpoint: app: nil FS"))
	}

	p := strings.TrimPrefix(path.Clean("/"+params.Path), "/")
	if p == "" {
		p = a.index()
	}

	if f, ok := a.openFile(p); ok {
		return &FileRenderer{File: f}, nil
	}
	for _, prefix := range a.Reserved {
		if strings.HasPrefix(p, prefix) {
			return nil, Error(http.StatusNotFound, "not found", nil)
		}
	}

	f, ok := a.openFile(a.index())
	if !ok {
		return nil, Error(http.StatusNotFound, "not found", nil)
	}
	// The shell must be revalidated so new builds are picked up.
	return &FileRenderer{File: f, CacheControl: "no-cache"}, nil
}

// openFile opens name if it is a regular file.
func (a *App) openFile(name string) (fs.File, bool) {
	f, err := a.FS.Open(name)
	if err != nil {
		return nil, false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = f.Close()
		return nil, false
	}
	return f, true
}
