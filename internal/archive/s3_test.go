package archive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/pkg/models"
)

// fakeS3 serves PUT and GET for path-style requests.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(req.URL.EscapedPath(), "/")
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		f.types[key] = req.Header.Get("Content-Type")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Etag": {"\"etag\""}},
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return &http.Response{
				StatusCode: http.StatusNotFound,
				Header:     http.Header{"Content-Type": {"application/xml"}},
				Body:       io.NopCloser(strings.NewReader("<Error><Code>NoSuchKey</Code></Error>")),
			}, nil
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Length": {strconv.Itoa(len(body))}},
			Body:       io.NopCloser(bytes.NewReader(body)),
		}, nil
	}
	return &http.Response{StatusCode: http.StatusMethodNotAllowed, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func newTestStore(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	store, err := NewS3Store(context.Background(), config.S3Config{
		Bucket:          "lab-archive",
		Region:          "us-east-1",
		Endpoint:        "http://s3.local",
		Prefix:          "inbound",
		UsePathStyle:    true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	require.NoError(t, err)
	return store, fake
}

func TestRawMessageKey(t *testing.T) {
	received := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("x", -2*3600))

	assert.Equal(t, "inbound/raw/2024/05/02/MSG-1.hl7",
		RawMessageKey("inbound", models.RawMessage{MessageID: "MSG-1", ReceivedAt: received}))
	assert.Equal(t, "raw/2024/05/02/a%2Fb.hl7",
		RawMessageKey("", models.RawMessage{MessageID: "a/b", ReceivedAt: received}))
}

func TestS3Store_ArchiveAndFetch(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	raw := models.RawMessage{
		MessageID:  "MSG-1",
		RawText:    "MSH|^~\\&|LIS|LAB\rOBR|1|ORD-1",
		ReceivedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Archive(ctx, raw))

	key := "lab-archive/inbound/raw/2024/05/01/MSG-1.hl7"
	require.Contains(t, fake.objects, key)
	assert.Equal(t, raw.RawText, string(fake.objects[key]))
	assert.Equal(t, contentType, fake.types[key])

	text, err := store.Fetch(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, raw.RawText, text)

	_, err = store.Fetch(ctx, models.RawMessage{MessageID: "missing", ReceivedAt: raw.ReceivedAt})
	assert.Error(t, err)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.S3Config{})
	assert.Error(t, err)
}
