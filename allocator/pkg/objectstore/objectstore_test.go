package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/malbeclabs/bounty/utils/pkg/retry"
	bountytesting "github.com/malbeclabs/bounty/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failures int
	failWith error
	getCalls int
	putCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeS3) fail() error {
	if f.failures > 0 {
		f.failures--
		return f.failWith
	}
	return nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = body
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestBounty_ObjectStore_PutThenGet(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	store := NewS3WithClient(bountytesting.NewLogger(), fake, fastRetry())

	require.NoError(t, store.Put(t.Context(), "bounty", "runs/a.csv", []byte("a,b\n"), "text/csv"))
	require.Equal(t, "text/csv", fake.types["bounty/runs/a.csv"])

	body, err := store.Get(t.Context(), "bounty", "runs/a.csv")
	require.NoError(t, err)
	require.Equal(t, "a,b\n", string(body))
}

func TestBounty_ObjectStore_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	fake.objects["bounty/in.csv"] = []byte("x")
	fake.failures = 2
	fake.failWith = errors.New("connection reset by peer")
	store := NewS3WithClient(bountytesting.NewLogger(), fake, fastRetry())

	body, err := store.Get(t.Context(), "bounty", "in.csv")
	require.NoError(t, err)
	require.Equal(t, "x", string(body))
	require.Equal(t, 3, fake.getCalls)
}

func TestBounty_ObjectStore_PermanentErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	store := NewS3WithClient(bountytesting.NewLogger(), fake, fastRetry())

	_, err := store.Get(t.Context(), "bounty", "missing.csv")
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3://bounty/missing.csv")
	require.Equal(t, 1, fake.getCalls)
}

func TestBounty_ObjectStore_ParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		bucket  string
		key     string
		notURL  bool
		wantErr bool
	}{
		{name: "bucket and nested key", raw: "s3://bounty/inputs/week30.csv", bucket: "bounty", key: "inputs/week30.csv"},
		{name: "local path", raw: "./data/submissions.csv", notURL: true},
		{name: "absolute path", raw: "/tmp/in.csv", notURL: true},
		{name: "missing key", raw: "s3://bounty/", wantErr: true},
		{name: "missing bucket", raw: "s3:///key.csv", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bucket, key, err := ParseURL(tt.raw)
			switch {
			case tt.notURL:
				require.ErrorIs(t, err, ErrNotObjectURL)
			case tt.wantErr:
				require.Error(t, err)
				require.NotErrorIs(t, err, ErrNotObjectURL)
			default:
				require.NoError(t, err)
				require.Equal(t, tt.bucket, bucket)
				require.Equal(t, tt.key, key)
			}
		})
	}
}

func TestBounty_ObjectStore_JoinKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "detail.csv", JoinKey("", "detail.csv"))
	require.Equal(t, "runs/abc/detail.csv", JoinKey("runs/abc", "detail.csv"))
	require.Equal(t, "runs/abc/detail.csv", JoinKey("/runs/abc/", "detail.csv"))
}
