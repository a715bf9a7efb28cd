// Package blob stores uploaded project files in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"teamulate/api/internal/util"
)

var ErrNotFound = errors.New("blob not found")

type Info struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the object storage used for project files. Delete of a missing
// key succeeds.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	Stat(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key, downloadName string, ttl time.Duration) (string, error)
}

const maxNameRunes = 120

var unsafeName = regexp.MustCompile(`[^\w.\-\x{0E01}-\x{0E5B}]+`)

// SafeName reduces an uploaded file name to characters that are safe in an
// object key. Thai letters are kept.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if utf8.RuneCountInString(name) > maxNameRunes {
		runes := []rune(name)
		name = string(runes[len(runes)-maxNameRunes:])
	}
	if name == "" {
		return "file"
	}
	return name
}

// Key builds projects/<projectID>/<random>-<safe name>.
func Key(projectID, name string) string {
	return fmt.Sprintf("projects/%s/%s-%s", projectID, util.ShortID(12), SafeName(name))
}

// InProject reports whether key was issued for projectID.
func InProject(key, projectID string) bool {
	return projectID != "" && strings.HasPrefix(key, "projects/"+projectID+"/") && !strings.Contains(key, "..")
}

// ContentDisposition is the attachment header served with downloads.
func ContentDisposition(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "file"
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
