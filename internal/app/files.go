package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/blob"
	"teamulate/api/internal/rbac"
	"teamulate/api/internal/search"
	"teamulate/api/internal/store"
	"teamulate/api/internal/util"
)

const defaultMimeType = "application/octet-stream"

type UploadInput struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

type ConfirmUploadInput struct {
	Key      string
	Name     string
	MimeType string
}

func (s *Service) maxUpload() int64 {
	if s.cfg.MaxUploadBytes > 0 {
		return s.cfg.MaxUploadBytes
	}
	return 25 << 20
}

func errTooLarge(limit int64) *DomainError {
	return domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "File is too large", map[string]any{"maxBytes": limit})
}

func cleanFileName(name string) (string, error) {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "", errValidation("name", "File name is required")
	}
	return name, nil
}

func mimeOrDefault(mimeType string) string {
	if mimeType = strings.TrimSpace(mimeType); mimeType != "" {
		return mimeType
	}
	return defaultMimeType
}

// UploadFile stores the blob first, then the row. If the row cannot be
// written the blob is removed again.
func (s *Service) UploadFile(ctx context.Context, actor auth.Actor, projectID string, input UploadInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	name, err := cleanFileName(input.Name)
	if err != nil {
		return nil, err
	}
	if input.Body == nil {
		return nil, errValidation("file", "File content is required")
	}
	if input.Size > s.maxUpload() {
		return nil, errTooLarge(s.maxUpload())
	}
	mimeType := mimeOrDefault(input.MimeType)

	key := blob.Key(projectID, name)
	if err := s.blobs.Put(ctx, key, input.Body, input.Size, mimeType); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}
	return s.recordFile(ctx, actor, store.FileRecord{
		ProjectID:    projectID,
		BlobKey:      key,
		OriginalName: name,
		MimeType:     mimeType,
		Size:         input.Size,
	})
}

func (s *Service) recordFile(ctx context.Context, actor auth.Actor, file store.FileRecord) (map[string]any, error) {
	file.ID = util.NewID("fil")
	file.UploadedBy = actor.ID
	var created store.FileRecord
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		if _, err := s.authorize(ctx, txMembership{tx}, actor, file.ProjectID, rbac.ActionWrite); err != nil {
			return nil, err
		}
		inserted, err := tx.InsertFile(ctx, file)
		if err != nil {
			return nil, notFoundAs(err, "Project")
		}
		created = inserted
		return &change{
			projectID: file.ProjectID,
			typ:       activity.FileUploaded,
			payload:   map[string]any{"fileId": inserted.ID, "name": inserted.OriginalName, "size": inserted.Size},
		}, nil
	})
	if err != nil {
		s.afterCommit(ctx, "orphan blob cleanup", func(ctx context.Context) error {
			return s.blobs.Delete(ctx, file.BlobKey)
		}, "project_id", file.ProjectID, "key", file.BlobKey)
		return nil, err
	}
	if s.search != nil {
		s.search.IndexFile(search.FileRecord{
			ID:        created.ID,
			ProjectID: created.ProjectID,
			Name:      created.OriginalName,
			MimeType:  created.MimeType,
		})
	}
	return fileView(created), nil
}

// PresignUpload hands out a direct upload URL. The row is written by
// ConfirmUpload once the object exists.
func (s *Service) PresignUpload(ctx context.Context, actor auth.Actor, projectID, name, mimeType string) (map[string]any, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	name, err := cleanFileName(name)
	if err != nil {
		return nil, err
	}
	key := blob.Key(projectID, name)
	url, err := s.blobs.PresignPut(ctx, key, mimeOrDefault(mimeType), s.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return map[string]any{
		"uploadUrl": url,
		"method":    http.MethodPut,
		"key":       key,
		"name":      name,
		"expiresAt": s.now().Add(s.cfg.PresignTTL),
	}, nil
}

func (s *Service) ConfirmUpload(ctx context.Context, actor auth.Actor, projectID string, input ConfirmUploadInput) (map[string]any, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionWrite); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(input.Key)
	if !blob.InProject(key, projectID) {
		return nil, errValidation("key", "Upload key does not belong to this project")
	}
	name, err := cleanFileName(input.Name)
	if err != nil {
		return nil, err
	}
	info, err := s.blobs.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, errValidation("key", "Upload not found, upload the file before confirming")
		}
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size > s.maxUpload() {
		s.afterCommit(ctx, "oversized upload cleanup", func(ctx context.Context) error {
			return s.blobs.Delete(ctx, key)
		}, "project_id", projectID, "key", key)
		return nil, errTooLarge(s.maxUpload())
	}
	mimeType := strings.TrimSpace(input.MimeType)
	if mimeType == "" {
		mimeType = info.ContentType
	}
	return s.recordFile(ctx, actor, store.FileRecord{
		ProjectID:    projectID,
		BlobKey:      key,
		OriginalName: name,
		MimeType:     mimeOrDefault(mimeType),
		Size:         info.Size,
	})
}

func (s *Service) readFile(ctx context.Context, actor auth.Actor, fileID string) (store.FileRecord, error) {
	if !actor.Authenticated() {
		return store.FileRecord{}, errUnauthorized()
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return store.FileRecord{}, notFoundAs(err, "File")
	}
	if _, err := s.authorize(ctx, s.store, actor, file.ProjectID, rbac.ActionRead); err != nil {
		return store.FileRecord{}, err
	}
	return file, nil
}

func (s *Service) FileDownloadURL(ctx context.Context, actor auth.Actor, fileID string) (map[string]any, error) {
	file, err := s.readFile(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}
	url, err := s.blobs.PresignGet(ctx, file.BlobKey, file.OriginalName, s.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	return map[string]any{
		"url":       url,
		"name":      file.OriginalName,
		"expiresAt": s.now().Add(s.cfg.PresignTTL),
	}, nil
}

// DeleteFile removes the row; the blob is deleted after commit and a
// failure there only gets reported.
func (s *Service) DeleteFile(ctx context.Context, actor auth.Actor, fileID string) error {
	var deletedFile store.FileRecord
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		if !actor.Authenticated() {
			return nil, errUnauthorized()
		}
		file, err := tx.GetFile(ctx, fileID)
		if err != nil {
			return nil, notFoundAs(err, "File")
		}
		if _, err := s.authorize(ctx, txMembership{tx}, actor, file.ProjectID, rbac.ActionWrite); err != nil {
			return nil, err
		}
		deleted, err := tx.DeleteFile(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		if !deleted {
			return nil, errNotFound("File")
		}
		deletedFile = file
		return &change{
			projectID: file.ProjectID,
			typ:       activity.FileDeleted,
			payload:   map[string]any{"fileId": file.ID, "name": file.OriginalName},
		}, nil
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, "blob delete", func(ctx context.Context) error {
		return s.blobs.Delete(ctx, deletedFile.BlobKey)
	}, "file_id", deletedFile.ID, "key", deletedFile.BlobKey)
	if s.search != nil {
		s.search.DeleteFile(deletedFile.ID)
	}
	return nil
}

func (s *Service) ListFiles(ctx context.Context, actor auth.Actor, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return mapSlice(files, fileView), nil
}
