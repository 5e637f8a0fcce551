package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

var at = time.Date(2025, 7, 4, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600))

func TestCommandKey(t *testing.T) {
	// 23:30 PDT is the next day in UTC.
	if got, want := CommandKey("abc", at), "commands/2025/07/05/abc.wav"; got != want {
		t.Errorf("CommandKey = %q, want %q", got, want)
	}
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "archive")
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	wav := []byte("RIFF....WAVEfmt ")

	key, err := l.Archive(ctx, "cmd-1", at, wav)
	if err != nil {
		t.Fatal(err)
	}
	if key != "commands/2025/07/05/cmd-1.wav" {
		t.Errorf("key = %q", key)
	}
	onDisk, err := os.ReadFile(filepath.Join(l.Root(), "commands", "2025", "07", "05", "cmd-1.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, wav) {
		t.Errorf("file = %q", onDisk)
	}

	got, err := l.Read(ctx, key)
	if err != nil || !bytes.Equal(got, wav) {
		t.Errorf("Read = %q, %v", got, err)
	}
	if _, err := l.Read(ctx, "commands/1999/01/01/none.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(l.Root(), filepath.FromSlash(key))))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %v", entries)
	}
}

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	m.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	ctx := context.Background()
	mock := newMockS3()
	s := NewS3(mock, "bucket", "device-7")
	wav := []byte("wav bytes")

	key, err := s.Archive(ctx, "cmd-2", at, wav)
	if err != nil {
		t.Fatal(err)
	}
	if key != "commands/2025/07/05/cmd-2.wav" {
		t.Errorf("key = %q", key)
	}
	obj := "device-7/" + key
	if !bytes.Equal(mock.objects[obj], wav) || mock.types[obj] != "audio/wav" {
		t.Errorf("object %q = %q (%s)", obj, mock.objects[obj], mock.types[obj])
	}

	got, err := s.Read(ctx, key)
	if err != nil || !bytes.Equal(got, wav) {
		t.Errorf("Read = %q, %v", got, err)
	}
	if _, err := s.Read(ctx, "commands/x.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestS3NoPrefix(t *testing.T) {
	mock := newMockS3()
	s := NewS3(mock, "bucket", "")
	key, err := s.Archive(context.Background(), "id", at, []byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.objects[key]; !ok {
		t.Errorf("object stored under %v, want %q", mock.objects, key)
	}
}

func TestS3PutError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = &apiError{code: "AccessDenied"}
	s := NewS3(mock, "bucket", "")
	_, err := s.Archive(context.Background(), "id", at, []byte{1})
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Errorf("err = %v, want wrapped AccessDenied", err)
	}
}

func TestNewS3Client(t *testing.T) {
	c := NewS3Client(S3Config{Region: "eu-west-1", Endpoint: "http://127.0.0.1:9000", AccessKeyID: "id", SecretAccessKey: "secret"})
	o := c.Options()
	if o.Region != "eu-west-1" || !o.UsePathStyle || *o.BaseEndpoint != "http://127.0.0.1:9000" {
		t.Errorf("options = region %q path-style %v endpoint %v", o.Region, o.UsePathStyle, o.BaseEndpoint)
	}
	creds, err := o.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID != "id" {
		t.Errorf("credentials = %+v, %v", creds, err)
	}
}
