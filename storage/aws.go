package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/ruteri/sbs/interfaces"
)

// AWSConfig locates the S3 bucket and DynamoDB table of an AWSBackend.
type AWSConfig struct {
	// Bucket holds blob objects.
	Bucket string

	// Table holds entry items. Its hash key is "library_id" and its range
	// key is "entry_id", both strings.
	Table string

	// KeyPrefix is the object key prefix. Defaults to "Libraries".
	KeyPrefix string

	Region   string
	Endpoint string

	// AccessKey and SecretKey are optional static credentials. Without
	// them the default credential chain is used.
	AccessKey string
	SecretKey string
}

// AWSBackend implements a storage backend on S3 (blobs) and DynamoDB
// (entries). Several libraries can share one bucket and one table: blob keys
// are prefixed with the library id and entry items are partitioned by it.
// Entry ids are ordered bytewise by DynamoDB's range key.
type AWSBackend struct {
	libraryID   interfaces.LibraryID
	bucketName  string
	tableName   string
	prefix      string
	s3          s3iface.S3API
	uploader    s3manageriface.UploaderAPI
	dynamo      dynamodbiface.DynamoDBAPI
	log         *slog.Logger
	locationURI string
}

// NewAWSBackend creates AWS clients from cfg and returns a backend for the library.
func NewAWSBackend(libraryID interfaces.LibraryID, cfg AWSConfig, log *slog.Logger) (*AWSBackend, error) {
	if cfg.Bucket == "" || cfg.Table == "" {
		return nil, fmt.Errorf("%w: aws backend requires a bucket and a table", interfaces.ErrInvalidLocationURI)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	s3Client := s3.New(sess)
	return NewAWSBackendWithClients(libraryID, cfg, s3Client, s3manager.NewUploaderWithClient(s3Client), dynamodb.New(sess), log), nil
}

// NewAWSBackendWithClients creates a backend over existing clients.
func NewAWSBackendWithClients(libraryID interfaces.LibraryID, cfg AWSConfig, s3Client s3iface.S3API, uploader s3manageriface.UploaderAPI, dynamo dynamodbiface.DynamoDBAPI, log *slog.Logger) *AWSBackend {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "Libraries"
	}

	uri := fmt.Sprintf("aws://%s/%s?region=%s", cfg.Bucket, cfg.Table, cfg.Region)
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	return &AWSBackend{
		libraryID:   libraryID,
		bucketName:  cfg.Bucket,
		tableName:   cfg.Table,
		prefix:      strings.Trim(prefix, "/"),
		s3:          s3Client,
		uploader:    uploader,
		dynamo:      dynamo,
		log:         log,
		locationURI: uri,
	}
}

// entryItem is the DynamoDB item layout of an entry.
type entryItem struct {
	LibraryID    string                   `dynamodbav:"library_id"`
	EntryID      string                   `dynamodbav:"entry_id"`
	Metadata     interfaces.EntryMetadata `dynamodbav:"metadata"`
	BlobSequence []interfaces.BlobID      `dynamodbav:"blob_sequence"`
}

func (b *AWSBackend) entryKey(id interfaces.EntryID) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"library_id": {S: aws.String(string(b.libraryID))},
		"entry_id":   {S: aws.String(string(id))},
	}
}

func (b *AWSBackend) GetEntry(ctx context.Context, id interfaces.EntryID) (*interfaces.EntryRecord, error) {
	out, err := b.dynamo.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.tableName),
		Key:            b.entryKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get entry item: %v", interfaces.ErrBackendFailure, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	rec, err := decodeEntryItem(out.Item)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *AWSBackend) EntryExists(ctx context.Context, id interfaces.EntryID) (bool, error) {
	out, err := b.dynamo.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(b.tableName),
		Key:                  b.entryKey(id),
		ProjectionExpression: aws.String("entry_id"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to get entry item: %v", interfaces.ErrBackendFailure, err)
	}
	return len(out.Item) > 0, nil
}

// QueryEntries queries the library's partition in range key order, following
// LastEvaluatedKey lazily until the limit is reached or the partition ends.
func (b *AWSBackend) QueryEntries(ctx context.Context, q interfaces.EntryQuery) iter.Seq2[interfaces.EntryRecord, error] {
	return func(yield func(interfaces.EntryRecord, error) bool) {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(b.tableName),
			KeyConditionExpression: aws.String("library_id = :library_id"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":library_id": {S: aws.String(string(b.libraryID))},
			},
			ScanIndexForward: aws.Bool(!q.Reverse),
		}
		if q.After != "" {
			input.ExclusiveStartKey = b.entryKey(q.After)
		}

		remaining := q.Limit
		for {
			if q.Limit > 0 {
				input.Limit = aws.Int64(int64(remaining))
			}

			start := time.Now()
			out, err := b.dynamo.QueryWithContext(ctx, input)
			if err != nil {
				yield(interfaces.EntryRecord{}, fmt.Errorf("%w: failed to query entries: %v", interfaces.ErrBackendFailure, err))
				return
			}
			b.log.Debug("Queried entries from DynamoDB",
				slog.String("table", b.tableName),
				slog.Int("items", len(out.Items)),
				slog.Duration("duration", time.Since(start)))

			for _, item := range out.Items {
				rec, err := decodeEntryItem(item)
				if !yield(rec, err) || err != nil {
					return
				}
				remaining--
			}

			if len(out.LastEvaluatedKey) == 0 || (q.Limit > 0 && remaining <= 0) {
				return
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
}

func (b *AWSBackend) PutEntry(ctx context.Context, rec interfaces.EntryRecord) error {
	if rec.EntryID == "" {
		return fmt.Errorf("%w: entry id must not be empty", interfaces.ErrInvalidArgument)
	}
	item, err := dynamodbattribute.MarshalMap(entryItem{
		LibraryID:    string(b.libraryID),
		EntryID:      string(rec.EntryID),
		Metadata:     rec.Metadata,
		BlobSequence: rec.BlobSequence,
	})
	if err != nil {
		return fmt.Errorf("failed to encode entry item: %w", err)
	}

	_, err = b.dynamo.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to put entry item: %v", interfaces.ErrBackendFailure, err)
	}

	b.log.Debug("Stored entry in DynamoDB",
		slog.String("table", b.tableName),
		slog.String("entry_id", string(rec.EntryID)))
	return nil
}

func (b *AWSBackend) DeleteEntry(ctx context.Context, id interfaces.EntryID) error {
	_, err := b.dynamo.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.tableName),
		Key:       b.entryKey(id),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete entry item: %v", interfaces.ErrBackendFailure, err)
	}
	return nil
}

func (b *AWSBackend) BlobContent(id interfaces.BlobID) interfaces.Content {
	return &s3ObjectContent{backend: b, key: b.getObjectKey(id), fallbackType: blobContentType(id)}
}

// BlobExists heads the blob object. A 404 means the blob is absent.
func (b *AWSBackend) BlobExists(ctx context.Context, id interfaces.BlobID) (bool, error) {
	_, err := b.headObject(ctx, b.getObjectKey(id))
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: could not load object with key %s: %v", interfaces.ErrBackendFailure, b.getObjectKey(id), err)
	}
	return true, nil
}

// WriteBlob uploads the content with its type; progress receives the byte
// counts as the uploader consumes the body.
func (b *AWSBackend) WriteBlob(ctx context.Context, id interfaces.BlobID, c interfaces.Content, progress interfaces.ProgressFunc) error {
	start := time.Now()
	key := b.getObjectKey(id)

	body, err := c.Open()
	if err != nil {
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer body.Close()

	_, err = b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        &progressReader{r: body, progress: progress},
		ContentType: aws.String(c.Type()),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload object to S3: %v", interfaces.ErrBackendFailure, err)
	}

	b.log.Debug("Stored blob in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Name returns a unique identifier for this storage backend.
func (b *AWSBackend) Name() string {
	return fmt.Sprintf("aws-%s-%s", b.bucketName, b.tableName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *AWSBackend) LocationURI() string {
	return b.locationURI
}

func (b *AWSBackend) Close() error {
	return nil
}

// getObjectKey generates an S3 object key for a blob of this library.
func (b *AWSBackend) getObjectKey(id interfaces.BlobID) string {
	return path.Join(b.prefix, string(b.libraryID), "Blobs", string(id))
}

func (b *AWSBackend) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return b.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
}

func decodeEntryItem(item map[string]*dynamodb.AttributeValue) (interfaces.EntryRecord, error) {
	var ei entryItem
	if err := dynamodbattribute.UnmarshalMap(item, &ei); err != nil {
		return interfaces.EntryRecord{}, fmt.Errorf("%w: unable to parse entry item: %v", interfaces.ErrBackendFailure, err)
	}
	return interfaces.EntryRecord{
		EntryID:      interfaces.EntryID(ei.EntryID),
		Metadata:     ei.Metadata.Normalize(),
		BlobSequence: ei.BlobSequence,
	}, nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "NotFound", s3.ErrCodeNoSuchKey:
			return true
		}
	}
	return false
}

// s3ObjectContent reads a blob object. Type and length come from a HEAD
// request made on first use.
type s3ObjectContent struct {
	backend      *AWSBackend
	key          string
	fallbackType string

	headOnce sync.Once
	head     *s3.HeadObjectOutput
	headErr  error
}

func (c *s3ObjectContent) loadHead() {
	c.headOnce.Do(func() {
		c.head, c.headErr = c.backend.headObject(context.Background(), c.key)
	})
}

func (c *s3ObjectContent) Type() string {
	c.loadHead()
	if c.headErr != nil || c.head.ContentType == nil || *c.head.ContentType == "" {
		return c.fallbackType
	}
	return *c.head.ContentType
}

func (c *s3ObjectContent) Length() (int64, error) {
	c.loadHead()
	if c.headErr != nil {
		return 0, fmt.Errorf("%w: failed to head object %s: %v", interfaces.ErrBackendFailure, c.key, c.headErr)
	}
	return aws.Int64Value(c.head.ContentLength), nil
}

func (c *s3ObjectContent) Open() (io.ReadCloser, error) {
	out, err := c.backend.s3.GetObjectWithContext(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(c.backend.bucketName),
		Key:    aws.String(c.key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get object from S3: %v", interfaces.ErrBackendFailure, err)
	}
	return out.Body, nil
}

func (c *s3ObjectContent) String() string {
	return fmt.Sprintf("<S3ObjectContent: %s>", c.key)
}

type progressReader struct {
	r        io.Reader
	progress interfaces.ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 && r.progress != nil {
		r.progress(int64(n))
	}
	return n, err
}
