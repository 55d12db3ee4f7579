package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mockClient is an in-memory API implementation for unit tests.
type mockClient struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	pageSize int

	// missingBucket makes every call fail with NoSuchBucket.
	missingBucket bool

	// failWith, when set, is returned from every call.
	failWith error

	getCalls   int
	headCalls  int
	listCalls  int
	rangeReads []string
}

func newMockClient() *mockClient {
	return &mockClient{objects: make(map[string][]byte), pageSize: 1000}
}

func (m *mockClient) put(key string, data []byte) {
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
}

func (m *mockClient) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	m.getCalls++
	if params.Range != nil {
		m.rangeReads = append(m.rangeReads, aws.ToString(params.Range))
	}
	data, exists := m.objects[aws.ToString(params.Key)]
	m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	if !exists {
		return nil, &types.NoSuchKey{}
	}

	if params.Range != nil {
		var start, end int64
		_, _ = fmt.Sscanf(aws.ToString(params.Range), "bytes=%d-%d", &start, &end)
		if start >= int64(len(data)) {
			return nil, &apiError{code: "InvalidRange"}
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockClient) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	m.headCalls++
	data, exists := m.objects[aws.ToString(params.Key)]
	m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	if !exists {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (m *mockClient) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	m.listCalls++
	var keys []string
	prefix := aws.ToString(params.Prefix)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(params.ContinuationToken); tok != "" {
		start = sort.SearchStrings(keys, tok)
	}
	end := min(start+m.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (m *mockClient) fail() error {
	if m.missingBucket {
		return &types.NoSuchBucket{}
	}
	return m.failWith
}

// apiError is a minimal smithy.APIError.
type apiError struct {
	code    string
	message string
}

var _ smithy.APIError = (*apiError)(nil)

func (e *apiError) Error() string                 { return e.code + ": " + e.message }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.message }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }
