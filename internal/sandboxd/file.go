package sandboxd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/policy"
	"github.com/golemhq/golem/internal/sandbox"
)

// FileOptions configures the file service.
type FileOptions struct {
	// Root is the directory file operations are confined to.
	Root string
}

// FileService serves file operations under the work directory. Paths
// go through the policy resolver, and reads and writes are capped at
// the policy size limit.
type FileService struct {
	root   string
	logger *observability.Logger
}

// NewFileService creates the file service.
func NewFileService(opts FileOptions, logger *observability.Logger) *FileService {
	if opts.Root == "" {
		opts.Root = policy.WorkRoot
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &FileService{root: opts.Root, logger: logger}
}

func (s *FileService) resolve(path string) (string, error) {
	return policy.ResolvePathIn(s.root, path)
}

// Handler returns the service's HTTP routes.
func (s *FileService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/read", s.handleRead)
	mux.HandleFunc("/write", s.handleWrite)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/delete", s.handleDelete)
	mux.HandleFunc("/health", handleHealth)
	return mux
}

func (s *FileService) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, sandbox.ReadResponse{Error: "method not allowed"})
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, sandbox.ReadResponse{Error: "path is required"})
		return
	}

	resolved, err := s.resolve(path)
	if err != nil {
		writeJSON(w, http.StatusForbidden, sandbox.ReadResponse{Path: path, Error: err.Error()})
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		writeJSON(w, statStatus(err), sandbox.ReadResponse{Path: path, Error: statError(err)})
		return
	}
	if info.IsDir() {
		writeJSON(w, http.StatusBadRequest, sandbox.ReadResponse{Path: path, Error: "path is a directory"})
		return
	}
	if info.Size() > policy.MaxFileBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, sandbox.ReadResponse{
			Path:  path,
			Error: fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), policy.MaxFileBytes),
		})
		return
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, sandbox.ReadResponse{Path: path, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sandbox.ReadResponse{
		Success: true,
		Path:    resolved,
		Content: string(content),
		Size:    int64(len(content)),
	})
}

func (s *FileService) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, sandbox.WriteResponse{Error: "method not allowed"})
		return
	}
	var req sandbox.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sandbox.WriteResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, sandbox.WriteResponse{Error: "path is required"})
		return
	}
	if len(req.Content) > policy.MaxFileBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, sandbox.WriteResponse{
			Path:  req.Path,
			Error: fmt.Sprintf("content is %d bytes, limit is %d", len(req.Content), policy.MaxFileBytes),
		})
		return
	}

	resolved, err := s.resolve(req.Path)
	if err != nil {
		writeJSON(w, http.StatusForbidden, sandbox.WriteResponse{Path: req.Path, Error: err.Error()})
		return
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, sandbox.WriteResponse{Path: req.Path, Error: err.Error()})
		return
	}
	if err := os.WriteFile(resolved, []byte(req.Content), 0o644); err != nil {
		writeJSON(w, http.StatusInternalServerError, sandbox.WriteResponse{Path: req.Path, Error: err.Error()})
		return
	}

	s.logger.Debug(r.Context(), "file written", "path", resolved, "size", len(req.Content))
	writeJSON(w, http.StatusOK, sandbox.WriteResponse{
		Success: true,
		Path:    resolved,
		Size:    int64(len(req.Content)),
	})
}

func (s *FileService) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, sandbox.ListResponse{Error: "method not allowed"})
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	resolved, err := s.resolve(path)
	if err != nil {
		writeJSON(w, http.StatusForbidden, sandbox.ListResponse{Path: path, Error: err.Error()})
		return
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		writeJSON(w, statStatus(err), sandbox.ListResponse{Path: path, Error: statError(err)})
		return
	}

	files := make([]sandbox.FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi := sandbox.FileInfo{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			fi.Type = "directory"
		}
		if info, err := entry.Info(); err == nil {
			fi.Size = info.Size()
			fi.Modified = info.ModTime().UTC().Format(time.RFC3339)
		}
		files = append(files, fi)
	}
	writeJSON(w, http.StatusOK, sandbox.ListResponse{
		Success: true,
		Path:    resolved,
		Files:   files,
	})
}

func (s *FileService) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, sandbox.DeleteResponse{Error: "method not allowed"})
		return
	}
	var req sandbox.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sandbox.DeleteResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, sandbox.DeleteResponse{Error: "path is required"})
		return
	}

	resolved, err := s.resolve(req.Path)
	if err != nil {
		writeJSON(w, http.StatusForbidden, sandbox.DeleteResponse{Path: req.Path, Error: err.Error()})
		return
	}

	if _, err := os.Stat(resolved); err != nil {
		writeJSON(w, statStatus(err), sandbox.DeleteResponse{Path: req.Path, Error: statError(err)})
		return
	}
	if err := os.Remove(resolved); err != nil {
		writeJSON(w, http.StatusInternalServerError, sandbox.DeleteResponse{Path: req.Path, Error: err.Error()})
		return
	}

	s.logger.Debug(r.Context(), "file deleted", "path", resolved)
	writeJSON(w, http.StatusOK, sandbox.DeleteResponse{Success: true, Path: resolved})
}

func statStatus(err error) int {
	if os.IsNotExist(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func statError(err error) string {
	if os.IsNotExist(err) {
		return "no such file or directory"
	}
	return err.Error()
}
