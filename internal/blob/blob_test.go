package blob

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"teamulate/api/internal/config"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "my report (final).pdf", want: "my_report_final_.pdf"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\Users\me\photo.png`, want: "photo.png"},
		{in: "รายงาน.docx", want: "รายงาน.docx"},
		{in: "   ", want: "file"},
		{in: "...", want: "file"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SafeName(tt.in); got != tt.want {
				t.Fatalf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSafeNameKeepsExtensionWhenTruncating(t *testing.T) {
	got := SafeName(strings.Repeat("a", 300) + ".pdf")
	if len([]rune(got)) != maxNameRunes || !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("SafeName() = %q", got)
	}
}

func TestKeyIsScopedToProject(t *testing.T) {
	key := Key("p1", "notes.txt")
	if !strings.HasPrefix(key, "projects/p1/") || !strings.HasSuffix(key, "-notes.txt") {
		t.Fatalf("Key() = %q", key)
	}
	if Key("p1", "notes.txt") == key {
		t.Fatal("Key() should be unique per call")
	}
	if !InProject(key, "p1") || InProject(key, "p2") || InProject("projects/p1/../p2/x", "p1") {
		t.Fatal("InProject() mismatch")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "projects/p1/a-notes.txt", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	body, info, err := s.Get(ctx, "projects/p1/a-notes.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "hello" || info.Size != 5 || info.ContentType != "text/plain" {
		t.Fatalf("Get() = %q %+v", data, info)
	}

	if err := s.Delete(ctx, "projects/p1/a-notes.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "projects/p1/a-notes.txt"); err != nil {
		t.Fatalf("Delete() missing error = %v", err)
	}
	if _, err := s.Stat(ctx, "projects/p1/a-notes.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Stat() error = %v, want ErrNotFound", err)
	}
}

func TestContentDisposition(t *testing.T) {
	if got := ContentDisposition("report.pdf"); got != `attachment; filename=report.pdf` {
		t.Fatalf("ContentDisposition() = %q", got)
	}
	if got := ContentDisposition("รายงาน.pdf"); !strings.HasPrefix(got, "attachment; filename*=utf-8''") {
		t.Fatalf("ContentDisposition() non-ascii = %q", got)
	}
}

func testBlobConfig() config.BlobConfig {
	return config.BlobConfig{
		Endpoint:  "localhost:9000",
		Bucket:    "teamulate",
		Region:    "us-east-1",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	}
}

func assertPresigned(t *testing.T, raw, key string, wantDisposition bool) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if u.Host != "localhost:9000" || !strings.HasSuffix(u.Path, "/teamulate/"+key) {
		t.Fatalf("presigned url = %s", raw)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" || q.Get("X-Amz-Expires") != "900" {
		t.Fatalf("presigned url missing signature: %s", raw)
	}
	if wantDisposition && !strings.HasPrefix(q.Get("response-content-disposition"), "attachment") {
		t.Fatalf("presigned url missing disposition: %s", raw)
	}
}

// Presigning is a local signing operation, so neither driver needs a server.
func TestMinioPresign(t *testing.T) {
	s, err := NewMinioStore(testBlobConfig())
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}
	ctx := context.Background()
	key := "projects/p1/abc-notes.txt"

	get, err := s.PresignGet(ctx, key, "notes.txt", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	assertPresigned(t, get, key, true)

	put, err := s.PresignPut(ctx, key, "text/plain", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut() error = %v", err)
	}
	assertPresigned(t, put, key, false)
}

func TestS3Presign(t *testing.T) {
	s, err := NewS3Store(context.Background(), testBlobConfig())
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}
	ctx := context.Background()
	key := "projects/p1/abc-notes.txt"

	get, err := s.PresignGet(ctx, key, "notes.txt", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	assertPresigned(t, get, key, true)

	put, err := s.PresignPut(ctx, key, "text/plain", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut() error = %v", err)
	}
	assertPresigned(t, put, key, false)
}

func TestEndpointURL(t *testing.T) {
	cfg := testBlobConfig()
	if got := endpointURL(cfg); got != "http://localhost:9000" {
		t.Fatalf("endpointURL() = %q", got)
	}
	cfg.UseSSL = true
	if got := endpointURL(cfg); got != "https://localhost:9000" {
		t.Fatalf("endpointURL() ssl = %q", got)
	}
	cfg.Endpoint = ""
	if got := endpointURL(cfg); got != "" {
		t.Fatalf("endpointURL() empty = %q", got)
	}
}
