package rulesdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Source resolves s3://bucket/key rules URLs. The client is built
// lazily; a custom endpoint enables path-style addressing (for MinIO and
// similar).
type s3Source struct {
	region   string
	endpoint string

	once   sync.Once
	client *s3.Client
	err    error
}

func (s *s3Source) clientFor(ctx context.Context) (*s3.Client, error) {
	s.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.region))
		if err != nil {
			s.err = fmt.Errorf("load AWS config: %w", err)
			return
		}
		var opts []func(*s3.Options)
		if s.endpoint != "" {
			opts = append(opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(s.endpoint)
				o.UsePathStyle = true
			})
		}
		s.client = s3.NewFromConfig(cfg, opts...)
	})
	return s.client, s.err
}

func (d *Downloader) loadS3(ctx context.Context, rawURL string) ([]byte, error) {
	if d.s3 == nil {
		return nil, errors.New("rulesdl: s3 source not configured")
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(rawURL, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("rulesdl: malformed s3 url %q", rawURL)
	}

	client, err := d.s3.clientFor(ctx)
	if err != nil {
		return nil, err
	}

	entry := d.readCache(rawURL)
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if entry != nil {
		if entry.ETag != "" {
			input.IfNoneMatch = aws.String(entry.ETag)
		}
		if t, err := http.ParseTime(entry.LastModified); err == nil {
			input.IfModifiedSince = aws.Time(t)
		}
	}

	out, err := client.GetObject(ctx, input)
	if err != nil {
		if entry != nil && isNotModified(err) {
			d.log.Debug("rules object unchanged, using cache", "url", rawURL)
			return entry.Body, nil
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	archive, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read rules object: %w", err)
	}
	body, err := extractRules(archive)
	if err != nil {
		return nil, err
	}

	ce := cacheEntry{Body: body, ETag: aws.ToString(out.ETag)}
	if out.LastModified != nil {
		ce.LastModified = out.LastModified.UTC().Format(http.TimeFormat)
	}
	d.writeCache(rawURL, ce)
	return body, nil
}

// isNotModified recognizes the 304 a conditional GetObject answers with.
func isNotModified(err error) bool {
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotModified
}
