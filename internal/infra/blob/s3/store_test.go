package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"herbtrace/internal/blob/core"
)

// mockRoundTripper fakes the minimal S3 HTTP subset the adapter touches, so
// the tests run without network access.
type mockRoundTripper struct{ state map[string]stored }

type stored struct {
	body        []byte
	contentType string
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch {
	case req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2"):
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range m.state {
			if prefix == "" || strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("<?xml version=\"1.0\"?><ListBucketResult><IsTruncated>false</IsTruncated>")
		for _, k := range keys {
			st := m.state[k]
			b.WriteString("<Contents><Key>")
			b.WriteString(k)
			b.WriteString(fmt.Sprintf("</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", len(st.body)))
		}
		b.WriteString("</ListBucketResult>")
		return xmlResponse(http.StatusOK, b.String()), nil
	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeAWSChunked(body)
		}
		m.state[key] = stored{body: body, contentType: req.Header.Get("Content-Type")}
		resp := emptyResponse(http.StatusOK)
		resp.Header.Set("ETag", `"mock-etag"`)
		return resp, nil
	case req.Method == http.MethodHead:
		st, ok := m.state[key]
		if !ok {
			return emptyResponse(http.StatusNotFound), nil
		}
		resp := emptyResponse(http.StatusOK)
		resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(st.body)))
		resp.Header.Set("Content-Type", st.contentType)
		resp.Header.Set("ETag", `"mock-etag"`)
		resp.Header.Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		return resp, nil
	case req.Method == http.MethodGet:
		st, ok := m.state[key]
		if !ok {
			return xmlResponse(http.StatusNotFound,
				`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`), nil
		}
		resp := &http.Response{
			StatusCode:    http.StatusOK,
			Body:          io.NopCloser(bytes.NewReader(st.body)),
			ContentLength: int64(len(st.body)),
			Header:        http.Header{},
		}
		resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(st.body)))
		resp.Header.Set("Content-Type", st.contentType)
		resp.Header.Set("ETag", `"mock-etag"`)
		resp.Header.Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		return resp, nil
	case req.Method == http.MethodDelete:
		delete(m.state, key)
		return emptyResponse(http.StatusNoContent), nil
	}
	return emptyResponse(http.StatusBadRequest), nil
}

// decodeAWSChunked strips the aws-chunked framing (hex chunk sizes plus
// trailing checksum headers) that the SDK wraps around PutObject bodies, the
// way real S3 does before storing the payload.
func decodeAWSChunked(in []byte) []byte {
	var out []byte
	for len(in) > 0 {
		i := bytes.Index(in, []byte("\r\n"))
		if i < 0 {
			break
		}
		header := string(in[:i])
		in = in[i+2:]
		if j := strings.IndexByte(header, ';'); j >= 0 {
			header = header[:j]
		}
		n, err := strconv.ParseInt(header, 16, 64)
		if err != nil || n <= 0 || int64(len(in)) < n {
			break
		}
		out = append(out, in[:n]...)
		in = in[n:]
		if len(in) >= 2 {
			in = in[2:]
		}
	}
	return out
}

func emptyResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     http.Header{},
	}
}

func xmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/xml"}},
	}
}

func newMockStore(t *testing.T) *Store {
	t.Helper()
	rt := &mockRoundTripper{state: make(map[string]stored)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	client := awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket", presign: awsS3.NewPresignClient(client)}
}

func TestPutGetHeadDelete(t *testing.T) {
	store := newMockStore(t)
	ctx := context.Background()

	info, err := store.Put(ctx, "meta/a.json", strings.NewReader(`{"k":"v"}`),
		core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "meta/a.json" || info.Size != int64(len(`{"k":"v"}`)) {
		t.Fatalf("info: %+v", info)
	}

	if _, err := store.Put(ctx, "meta/a.json", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("overwrite must fail")
	}

	got, rc, err := store.Get(ctx, "meta/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"k":"v"}` || got.ContentType != "application/json" {
		t.Fatalf("round trip: %q %+v", data, got)
	}

	head, err := store.Head(ctx, "meta/a.json")
	if err != nil || head.ETag != "mock-etag" {
		t.Fatalf("head: %+v err=%v", head, err)
	}

	if _, err := store.Delete(ctx, "meta/a.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Get(ctx, "meta/a.json"); err != core.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := store.Head(ctx, "meta/a.json"); err != core.ErrNotFound {
		t.Fatalf("expected ErrNotFound on head, got %v", err)
	}
}

func TestListByPrefix(t *testing.T) {
	store := newMockStore(t)
	ctx := context.Background()
	for _, key := range []string{"meta/b.json", "meta/a.json", "certs/c.pdf"} {
		if _, err := store.Put(ctx, key, strings.NewReader("data"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "meta/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "meta/a.json" || infos[1].Key != "meta/b.json" {
		t.Fatalf("listing: %+v", infos)
	}
}

func TestPresignURL(t *testing.T) {
	store := newMockStore(t)
	ctx := context.Background()
	u, err := store.PresignURL(ctx, "meta/a.json", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u, "meta/a.json") {
		t.Fatalf("presigned url: %s", u)
	}
	if _, err := store.PresignURL(ctx, "meta/a.json", core.SignedURLOptions{Method: "PUT"}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if store.Driver() != core.DriverS3 {
		t.Fatalf("driver: %s", store.Driver())
	}
}

func TestOpenFromEnvRequiresBucket(t *testing.T) {
	t.Setenv("HERBTRACE_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket required error")
	}
}
