package kv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	s, err := NewS3Store(client, "portal", "slots")
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}
	exerciseStore(t, s)

	key := "portal/slots/user-session.json"
	if _, ok := client.objects[key]; !ok {
		t.Fatalf("expected object %q, have %v", key, client.objects)
	}
	if client.types[key] != "application/json" {
		t.Fatalf("content type = %q", client.types[key])
	}
}

func TestS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(newFakeS3(), "", ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestS3StoreBackendError(t *testing.T) {
	client := newFakeS3()
	client.err = errors.New("access denied")
	s, _ := NewS3Store(client, "portal", "")

	if _, err := s.Get(context.Background(), "user-session"); err == nil {
		t.Fatal("expected error from Get")
	}
}

func TestIsS3NotFound(t *testing.T) {
	if !isS3NotFound(&types.NoSuchKey{}) || !isS3NotFound(&types.NotFound{}) {
		t.Fatal("not-found errors should be recognized")
	}
	if isS3NotFound(errors.New("boom")) {
		t.Fatal("generic error treated as not found")
	}
}
