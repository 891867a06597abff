package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dukerupert/voxnote/internal/model"
)

const batchUploadPath = "/api/v1/audio/batch-upload"

// Artifact is one audio file in a batch upload.
type Artifact struct {
	NoteID string
	Path   string
}

// UploadBatch sends every artifact in a single multipart request. The body is
// streamed through a pipe so large recordings are never held in memory.
func (c *Client) UploadBatch(ctx context.Context, artifacts []Artifact) (*model.BatchUpload, error) {
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("upload batch: no artifacts")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeArtifacts(mw, artifacts))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, batchUploadPath, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out model.BatchUpload
	if err := c.do(req, &out); err != nil {
		pr.Close()
		return nil, err
	}
	return &out, nil
}

func writeArtifacts(mw *multipart.Writer, artifacts []Artifact) error {
	for _, a := range artifacts {
		if err := mw.WriteField("note_ids", a.NoteID); err != nil {
			return fmt.Errorf("write note id: %w", err)
		}
		if err := writeFile(mw, a); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, a Artifact) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.Path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("files", a.NoteID+filepath.Ext(a.Path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", a.Path, err)
	}
	return nil
}
