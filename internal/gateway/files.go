package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/hive/internal/orcherr"
)

// fileMeta is the sidecar written alongside every blob, the
// files/<fileId>.meta.json spec.md §6 names.
type fileMeta struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
	Uploaded time.Time `json:"uploaded"`
}

// handleFilesUpload implements files.upload: a multipart/form-data post
// with a single "file" part, stored under <DATA_ROOT>/files/<fileId>.<ext>
// with a sibling <fileId>.meta.json (spec.md §6, SPEC_FULL.md §9's
// attachment-reference decision).
func (g *Gateway) handleFilesUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrValidation, "parse multipart form"), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrValidation, "missing file part"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	id := uuid.NewString()
	ext := filepath.Ext(header.Filename)
	dir := g.store.FilesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "mkdir files dir"), http.StatusInternalServerError)
		return
	}

	blobPath := filepath.Join(dir, id+ext)
	dst, err := os.OpenFile(blobPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "create blob %s", blobPath), http.StatusInternalServerError)
		return
	}
	size, err := io.Copy(dst, file)
	if err != nil {
		dst.Close()
		os.Remove(blobPath)
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "write blob %s", blobPath), http.StatusInternalServerError)
		return
	}
	if err := dst.Close(); err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "close blob %s", blobPath), http.StatusInternalServerError)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	meta := fileMeta{ID: id, Filename: header.Filename, MimeType: mimeType, Size: size, Uploaded: time.Now().UTC()}
	if err := g.writeFileMeta(id, meta); err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, meta)
}

func (g *Gateway) writeFileMeta(id string, meta fileMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.ErrValidation, "marshal file meta %s", id)
	}
	path := filepath.Join(g.store.FilesDir(), id+".meta.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return orcherr.Wrap(orcherr.ErrIO, "write file meta %s", id)
	}
	return nil
}

func (g *Gateway) readFileMeta(id string) (fileMeta, error) {
	path := filepath.Join(g.store.FilesDir(), id+".meta.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fileMeta{}, orcherr.Wrap(orcherr.ErrNotFound, "file %s", id)
	}
	var meta fileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fileMeta{}, orcherr.Wrap(orcherr.ErrMailCorrupt, "parse file meta %s", id)
	}
	return meta, nil
}

// findBlob locates the <fileId>.<ext> sibling of a meta file, since the
// extension isn't known from the id alone.
func (g *Gateway) findBlob(id string) (string, error) {
	dir := g.store.FilesDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", orcherr.Wrap(orcherr.ErrIO, "list files dir")
	}
	prefix := id + "."
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && !strings.HasSuffix(name, ".meta.json") {
			return filepath.Join(dir, name), nil
		}
	}
	return "", orcherr.Wrap(orcherr.ErrNotFound, "blob for file %s", id)
}

// handleFilesFetch implements files.fetch: streams the raw blob back.
func (g *Gateway) handleFilesFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := g.readFileMeta(id)
	if err != nil {
		jsonError(w, err, http.StatusNotFound)
		return
	}
	blobPath, err := g.findBlob(id)
	if err != nil {
		jsonError(w, err, http.StatusNotFound)
		return
	}
	f, err := os.Open(blobPath)
	if err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrIO, "open blob %s", blobPath), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.Filename+`"`)
	io.Copy(w, f)
}

// handleFilesMeta implements files.meta.
func (g *Gateway) handleFilesMeta(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := g.readFileMeta(id)
	if err != nil {
		jsonError(w, err, http.StatusNotFound)
		return
	}
	jsonResponse(w, meta)
}
