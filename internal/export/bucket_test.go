package export

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	key := objectKey("p1", "notes.md")
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != "exports" || parts[1] != "p1" || parts[3] != "notes.md" {
		t.Fatalf("objectKey() = %q", key)
	}
	if objectKey("p1", "notes.md") == key {
		t.Fatal("each upload must get its own key")
	}
}

func TestBucketPutIntegration(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("SCRIBE_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("SCRIBE_TEST_S3_ENDPOINT is not set")
	}
	bucket, err := NewBucket(BucketConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("SCRIBE_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("SCRIBE_TEST_S3_SECRET_KEY"),
		Bucket:    "scribe-test-exports",
		LinkTTL:   5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewBucket() error = %v", err)
	}
	ctx := context.Background()
	if err := bucket.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	upload, err := bucket.Put(ctx, "p1", &Result{Data: []byte("# hi\n"), Filename: "hi.md", MimeType: "text/markdown"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	resp, err := http.Get(upload.URL)
	if err != nil {
		t.Fatalf("GET presigned url: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "# hi\n" {
		t.Fatalf("presigned GET = %d %q", resp.StatusCode, body)
	}
}
