package stream

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nerfedge/scenecache/pkg/errors"
)

// HTTPTransport fetches chunk payloads from a content server exposing
// GET {base}/chunks/{id}?lod={n}.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport against the given base URL. A nil
// client uses http.DefaultClient; timeouts belong to the injected client.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Fetch downloads one chunk payload at the requested level of detail.
func (t *HTTPTransport) Fetch(ctx context.Context, chunkID string, lod int) ([]byte, error) {
	url := fmt.Sprintf("%s/chunks/%s?lod=%d", t.baseURL, chunkID, lod)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "building chunk request", err).
			WithComponent("stream").WithContext("chunk", chunkID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "fetching chunk", err).
			WithComponent("stream").WithContext("chunk", chunkID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrCodeFetchFailed,
			"chunk server returned %s", resp.Status).
			WithComponent("stream").WithContext("chunk", chunkID)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "reading chunk body", err).
			WithComponent("stream").WithContext("chunk", chunkID)
	}
	return data, nil
}

// s3Getter is the subset of the S3 client the transport uses.
type s3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Transport fetches chunk payloads directly from an object store laid
// out as {prefix}/lod{n}/{id}.
type S3Transport struct {
	client s3Getter
	bucket string
	prefix string
}

// NewS3Transport wraps an existing S3 client.
func NewS3Transport(client *s3.Client, bucket, prefix string) *S3Transport {
	return &S3Transport{client: client, bucket: bucket, prefix: prefix}
}

// Fetch downloads one chunk object.
func (t *S3Transport) Fetch(ctx context.Context, chunkID string, lod int) ([]byte, error) {
	key := path.Join(t.prefix, fmt.Sprintf("lod%d", lod), chunkID)
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if goerrors.As(err, &noKey) {
			return nil, errors.Newf(errors.ErrCodeFetchFailed, "chunk object %q does not exist", key).
				WithComponent("stream").WithContext("chunk", chunkID)
		}
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "fetching chunk object", err).
			WithComponent("stream").WithContext("chunk", chunkID)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "reading chunk object", err).
			WithComponent("stream").WithContext("chunk", chunkID)
	}
	return data, nil
}
