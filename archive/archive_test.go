package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutObjectClient struct {
	calls int
	input *s3.PutObjectInput
	err   error
}

func (f *fakePutObjectClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

// TestNewDisabledWithoutBucket verifies an empty bucket turns archiving off
func TestNewDisabledWithoutBucket(t *testing.T) {
	u, err := New(context.Background(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if u.Enabled() {
		t.Error("uploader should be disabled without a bucket")
	}
	if _, err := u.Store(context.Background(), []byte("data"), "image/png"); err != nil {
		t.Errorf("Store() on disabled uploader should be a no-op, got %v", err)
	}
}

// TestStorePutsObject verifies the object key layout and metadata
func TestStorePutsObject(t *testing.T) {
	client := &fakePutObjectClient{}
	u := &Uploader{client: client, bucket: "prompt-uploads"}

	key, err := u.Store(context.Background(), []byte("image-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("PutObject calls = %d; want 1", client.calls)
	}
	if got := *client.input.Bucket; got != "prompt-uploads" {
		t.Errorf("bucket = %q", got)
	}
	if got := *client.input.Key; got != key || !strings.HasPrefix(got, "uploads/") {
		t.Errorf("key = %q; returned %q", got, key)
	}
	if got := *client.input.ContentType; got != "image/jpeg" {
		t.Errorf("content type = %q", got)
	}
	body, _ := io.ReadAll(client.input.Body)
	if string(body) != "image-bytes" {
		t.Errorf("body = %q", body)
	}
}

// TestStoreWrapsError verifies put failures surface with context
func TestStoreWrapsError(t *testing.T) {
	client := &fakePutObjectClient{err: errors.New("access denied")}
	u := &Uploader{client: client, bucket: "prompt-uploads"}

	if _, err := u.Store(context.Background(), []byte("x"), "image/png"); err == nil {
		t.Fatal("Store() should surface the put error")
	}
}

// TestStorageKeyLayout verifies keys spread by date and stay unique
func TestStorageKeyLayout(t *testing.T) {
	now := time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)
	a := storageKey(now)
	b := storageKey(now)

	if !strings.HasPrefix(a, "uploads/2025/03/07/") {
		t.Errorf("key = %q; want uploads/2025/03/07/ prefix", a)
	}
	if a == b {
		t.Error("keys for distinct uploads must differ")
	}
}
