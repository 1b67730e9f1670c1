package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/parley-chat/parley/pkg/protocol"
)

const (
	// DefaultFlushCount is the batch size that triggers an upload.
	DefaultFlushCount = 100

	// DefaultFlushInterval bounds how long a partial batch may sit
	// before it is uploaded anyway.
	DefaultFlushInterval = 30 * time.Second

	// DefaultQueueSize is the capacity of the intake queue between
	// Offer and the upload loop.
	DefaultQueueSize = 1024

	uploadTimeout = 30 * time.Second
)

// uploader is the slice of the S3 client the sink needs. Tests swap in
// a fake.
type uploader interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3SinkConfig configures an S3Sink. Bucket is required; zero values
// elsewhere fall back to the defaults above.
type S3SinkConfig struct {
	Bucket        string
	Prefix        string
	FlushCount    int
	FlushInterval time.Duration
	QueueSize     int
}

// S3Sink batches chat messages and writes them to S3 as ndjson
// objects, one object per batch, keyed by day and upload time:
//
//	<prefix>/2026-01-30/1769800000000000000.ndjson
//
// Offer never blocks. When the intake queue is full or an upload
// fails, messages are dropped and counted, and the relay carries on.
type S3Sink struct {
	client uploader
	config S3SinkConfig
	logger *slog.Logger

	queue     chan *protocol.Message
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	accepted atomic.Uint64
	dropped  atomic.Uint64
	uploads  atomic.Uint64
}

// SinkStats is a point-in-time snapshot of sink counters.
type SinkStats struct {
	Accepted uint64
	Dropped  uint64
	Uploads  uint64
}

// NewS3Sink starts a sink uploading through client. It returns an
// error if config.Bucket is empty.
func NewS3Sink(client *s3.Client, config S3SinkConfig, logger *slog.Logger) (*S3Sink, error) {
	return newSink(client, config, logger)
}

func newSink(client uploader, config S3SinkConfig, logger *slog.Logger) (*S3Sink, error) {
	if config.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if config.Prefix == "" {
		config.Prefix = "transcripts"
	}
	if config.FlushCount <= 0 {
		config.FlushCount = DefaultFlushCount
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &S3Sink{
		client: client,
		config: config,
		logger: logger.With("component", "archive"),
		queue:  make(chan *protocol.Message, config.QueueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Offer enqueues m for archival. It reports false once the sink is
// closed or the intake queue is full.
func (s *S3Sink) Offer(m *protocol.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- m:
		s.accepted.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close flushes any buffered messages and stops the upload loop. It
// returns ctx.Err() if the final flush does not finish in time.
func (s *S3Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the sink's counters.
func (s *S3Sink) Stats() SinkStats {
	return SinkStats{
		Accepted: s.accepted.Load(),
		Dropped:  s.dropped.Load(),
		Uploads:  s.uploads.Load(),
	}
}

func (s *S3Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*protocol.Message, 0, s.config.FlushCount)
	for {
		select {
		case m := <-s.queue:
			batch = append(batch, m)
			if len(batch) >= s.config.FlushCount {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			// Drain anything accepted before the close, then make a
			// final upload.
			for {
				select {
				case m := <-s.queue:
					batch = append(batch, m)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (s *S3Sink) flush(batch []*protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range batch {
		if err := enc.Encode(recordFor(m)); err != nil {
			s.logger.Warn("skipping unencodable record", "error", err)
		}
	}

	key := s.objectKey(time.Now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"message-count": strconv.Itoa(len(batch)),
		},
	})
	if err != nil {
		s.dropped.Add(uint64(len(batch)))
		s.logger.Warn("transcript upload failed",
			"key", key,
			"messages", len(batch),
			"error", err)
		return
	}
	s.uploads.Add(1)
	s.logger.Debug("transcript uploaded", "key", key, "messages", len(batch))
}

func (s *S3Sink) objectKey(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s/%s/%d.ndjson", s.config.Prefix, now.Format("2006-01-02"), now.UnixNano())
}

// NewClientFromEnv builds an S3 client from the conventional AWS
// environment variables: AWS_REGION (or AWS_DEFAULT_REGION),
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and, optionally,
// AWS_SESSION_TOKEN.
func NewClientFromEnv() (*s3.Client, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		return nil, errors.New("archive: AWS_REGION is not set")
	}

	keyID := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if keyID == "" || secret == "" {
		return nil, errors.New("archive: AWS credentials are not set")
	}
	token := os.Getenv("AWS_SESSION_TOKEN")

	provider := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     keyID,
			SecretAccessKey: secret,
			SessionToken:    token,
			Source:          "environment",
		}, nil
	})
	return s3.New(s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(provider),
	}), nil
}
