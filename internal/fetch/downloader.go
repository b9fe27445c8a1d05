package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kebairia/mariabak/internal/errs"
	"github.com/kebairia/mariabak/internal/logger"
)

// smallObjectLimit is the size below which chunking is not worth it.
const smallObjectLimit = 1 << 20

// Fallbacks for a zero or negative worker count or part size reaching
// the downloader, e.g. --split 0 on the command line.
const (
	defaultWorkers    = 4
	defaultPartSizeMB = 64
)

// Options configures a download.
type Options struct {
	Workers        int
	PartSizeMB     int
	MaxTries       int
	Public         bool
	Region         string
	Endpoint       string
	ForcePathStyle bool
	// Force overwrites an existing destination file.
	Force bool
	// Clean removes the incomplete file when the download aborts.
	Clean bool
}

// normalized coerces non-positive sizes and counts to the defaults. A
// zero part size would split the object into no parts at all, and zero
// workers would leave the feeder blocked with nobody reading jobs.
func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.PartSizeMB <= 0 {
		o.PartSizeMB = defaultPartSizeMB
	}
	if o.MaxTries < 0 {
		o.MaxTries = 0
	}
	return o
}

// api is the slice of the S3 client the downloader uses.
type api interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Downloader pulls large objects from S3 in parallel byte-range chunks.
type Downloader struct {
	client api
	opts   Options
	log    logger.Logger
	// retryDelay is the pause between part attempts; zero means the
	// 3s the tool has always used.
	retryDelay time.Duration
}

// NewDownloader builds an S3 client from the ambient AWS config plus
// opts. Public mode uses unsigned requests for anonymous buckets.
func NewDownloader(ctx context.Context, opts Options, log logger.Logger) (*Downloader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Public {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Downloader{
		client: s3.NewFromConfig(cfg, s3Opts...),
		opts:   opts.normalized(),
		log:    log,
	}, nil
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an s3:// URI", errs.ErrArgument, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q must name a bucket and key", errs.ErrArgument, uri)
	}
	return bucket, key, nil
}

// partRange is one inclusive byte range of the object.
type partRange struct {
	index      int
	start, end int64
}

// partRanges splits size bytes into parts of at most partSize bytes.
func partRanges(size, partSize int64) []partRange {
	if partSize <= 0 || size <= 0 {
		return nil
	}
	parts := make([]partRange, 0, (size+partSize-1)/partSize)
	for i, start := 0, int64(0); start < size; i, start = i+1, start+partSize {
		end := start + partSize - 1
		if end > size-1 {
			end = size - 1
		}
		parts = append(parts, partRange{index: i, start: start, end: end})
	}
	return parts
}

// Download fetches s3://bucket/key to dest. Objects above the small
// limit are split into byte-range parts pulled by a worker pool; each
// part retries independently up to MaxTries before failing the whole
// download.
func (d *Downloader) Download(ctx context.Context, src, dest string) error {
	d.opts = d.opts.normalized()
	bucket, key, err := ParseURI(src)
	if err != nil {
		return err
	}

	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, path.Base(key))
	}
	if _, err := os.Stat(dest); err == nil {
		if !d.opts.Force {
			return fmt.Errorf("%w: destination %q exists, use --force to overwrite", errs.ErrArgument, dest)
		}
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("remove %q: %w", dest, err)
		}
	}

	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	d.log.Info("download started", "source", src, "dest", dest, "size", size)

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %q: %w", dest, err)
	}

	start := time.Now()
	err = d.download(ctx, file, bucket, key, size)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if d.opts.Clean {
			d.log.Warn("removing incomplete file", "dest", dest)
			os.Remove(dest)
		} else {
			d.log.Warn("incomplete file kept", "dest", dest)
		}
		return err
	}

	elapsed := time.Since(start)
	speed := float64(size) / (1 << 20) / elapsed.Seconds()
	d.log.Info("download finished",
		"dest", dest,
		"duration", elapsed.String(),
		"mb_per_s", fmt.Sprintf("%.2f", speed),
	)
	return nil
}

func (d *Downloader) download(ctx context.Context, file *os.File, bucket, key string, size int64) error {
	if size == 0 {
		return nil
	}
	if size < smallObjectLimit {
		return d.fetchPart(ctx, file, bucket, key, partRange{start: 0, end: size - 1})
	}

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("preallocate %d bytes: %w", size, err)
	}

	parts := partRanges(size, int64(d.opts.PartSizeMB)<<20)
	d.log.Debug("splitting object", "parts", len(parts), "workers", d.opts.Workers)

	jobs := make(chan partRange)
	failures := make(chan error, d.opts.Workers)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range jobs {
				if err := d.fetchPartWithRetry(ctx, file, bucket, key, part); err != nil {
					failures <- err
					cancel()
					return
				}
			}
		}()
	}

	for _, part := range parts {
		select {
		case jobs <- part:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(failures)

	// first failure wins
	for err := range failures {
		return err
	}
	return ctx.Err()
}

func (d *Downloader) fetchPartWithRetry(ctx context.Context, file *os.File, bucket, key string, part partRange) error {
	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxTries; attempt++ {
		if attempt > 0 {
			delay := d.retryDelay
			if delay == 0 {
				delay = 3 * time.Second
			}
			d.log.Debug("retrying part", "part", part.index, "attempt", attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = d.fetchPart(ctx, file, bucket, key, part); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("part %d failed after %d tries: %w", part.index, d.opts.MaxTries+1, lastErr)
}

func (d *Downloader) fetchPart(ctx context.Context, file *os.File, bucket, key string, part partRange) error {
	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", part.start, part.end)),
	})
	if err != nil {
		return fmt.Errorf("get part %d: %w", part.index, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.NewOffsetWriter(file, part.start), resp.Body); err != nil {
		return fmt.Errorf("write part %d: %w", part.index, err)
	}
	return nil
}
