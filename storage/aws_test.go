package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/ruteri/sbs/content"
	"github.com/ruteri/sbs/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	s3iface.S3API
	mock.Mock
}

func (m *mockS3) HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func (m *mockS3) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*s3.GetObjectOutput)
	return out, args.Error(1)
}

type mockUploader struct {
	s3manageriface.UploaderAPI
	mock.Mock
	body []byte
}

func (m *mockUploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.body = data
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*s3manager.UploadOutput)
	return out, args.Error(1)
}

type mockDynamo struct {
	dynamodbiface.DynamoDBAPI
	mock.Mock
}

func (m *mockDynamo) GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) DeleteItemWithContext(ctx aws.Context, input *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) QueryWithContext(ctx aws.Context, input *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func newTestAWSBackend() (*AWSBackend, *mockS3, *mockUploader, *mockDynamo) {
	s3m, up, dyn := &mockS3{}, &mockUploader{}, &mockDynamo{}
	cfg := AWSConfig{Bucket: "media", Table: "entries", Region: "eu-west-1"}
	return NewAWSBackendWithClients("photos", cfg, s3m, up, dyn, testLogger()), s3m, up, dyn
}

func entryItemFor(t *testing.T, id string) map[string]*dynamodb.AttributeValue {
	t.Helper()
	item, err := dynamodbattribute.MarshalMap(entryItem{
		LibraryID:    "photos",
		EntryID:      id,
		Metadata:     interfaces.NewEntryMetadata(nil),
		BlobSequence: []interfaces.BlobID{},
	})
	require.NoError(t, err)
	return item
}

func TestAWSBackend_ObjectKeys(t *testing.T) {
	b, _, _, _ := newTestAWSBackend()
	assert.Equal(t, "Libraries/photos/Blobs/feb78a44d55c9169801cf606cd6041ad9a5f69c9.png",
		b.getObjectKey("feb78a44d55c9169801cf606cd6041ad9a5f69c9.png"))
	assert.Equal(t, "aws://media/entries?region=eu-west-1", b.LocationURI())
	assert.Equal(t, "aws-media-entries", b.Name())
}

func TestAWSBackend_BlobExists(t *testing.T) {
	id := interfaces.BlobID("feb78a44d55c9169801cf606cd6041ad9a5f69c9.png")

	tests := []struct {
		name    string
		headErr error
		exists  bool
		wantErr error
	}{
		{name: "present", exists: true},
		{name: "not found code", headErr: awserr.New("NotFound", "Not Found", nil)},
		{name: "404 request failure", headErr: awserr.NewRequestFailure(awserr.New("Forbidden", "", nil), 404, "req-1")},
		{name: "throttled", headErr: awserr.New("SlowDown", "reduce your request rate", nil), wantErr: interfaces.ErrBackendFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, s3m, _, _ := newTestAWSBackend()
			var out *s3.HeadObjectOutput
			if tt.headErr == nil {
				out = &s3.HeadObjectOutput{}
			}
			s3m.On("HeadObjectWithContext", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
				return *in.Bucket == "media" && *in.Key == "Libraries/photos/Blobs/"+string(id)
			})).Return(out, tt.headErr)

			exists, err := b.BlobExists(context.Background(), id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exists, exists)
		})
	}
}

func TestAWSBackend_WriteBlob(t *testing.T) {
	b, _, up, _ := newTestAWSBackend()
	id := interfaces.BlobID("0a4d55a8d778e5022fab701977c5d840bbc486d0.txt")

	up.On("UploadWithContext", mock.Anything, mock.MatchedBy(func(in *s3manager.UploadInput) bool {
		return *in.Key == "Libraries/photos/Blobs/"+string(id) && *in.ContentType == "text/plain"
	})).Return(&s3manager.UploadOutput{}, nil)

	var total int64
	err := b.WriteBlob(context.Background(), id, content.NewBytesContent("text/plain", []byte("Hello World\n")), func(n int64) {
		total += n
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello World\n"), up.body)
	assert.Equal(t, int64(12), total)
	up.AssertExpectations(t)
}

func TestAWSBackend_WriteBlobFailure(t *testing.T) {
	b, _, up, _ := newTestAWSBackend()
	up.On("UploadWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	err := b.WriteBlob(context.Background(), "0a4d55a8d778e5022fab701977c5d840bbc486d0.txt", content.NewBytesContent("text/plain", []byte("x")), nil)
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
}

func TestAWSBackend_BlobContent(t *testing.T) {
	b, s3m, _, _ := newTestAWSBackend()
	id := interfaces.BlobID("feb78a44d55c9169801cf606cd6041ad9a5f69c9.png")

	s3m.On("HeadObjectWithContext", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentType: aws.String("image/png"), ContentLength: aws.Int64(5)}, nil).Once()
	s3m.On("GetObjectWithContext", mock.Anything, mock.Anything).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("\x89PNG\n"))}, nil)

	c := b.BlobContent(id)
	assert.Equal(t, "image/png", c.Type())
	length, err := c.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)

	r, err := c.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\n", string(data))

	s3m.AssertNumberOfCalls(t, "HeadObjectWithContext", 1)
}

func TestAWSBackend_GetEntry(t *testing.T) {
	b, _, _, dyn := newTestAWSBackend()

	dyn.On("GetItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return *in.Key["entry_id"].S == "e1" && *in.Key["library_id"].S == "photos"
	})).Return(&dynamodb.GetItemOutput{Item: entryItemFor(t, "e1")}, nil)
	dyn.On("GetItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return *in.Key["entry_id"].S == "missing"
	})).Return(&dynamodb.GetItemOutput{}, nil)

	rec, err := b.GetEntry(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, interfaces.EntryID("e1"), rec.EntryID)

	rec, err = b.GetEntry(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	exists, err := b.EntryExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAWSBackend_PutEntry(t *testing.T) {
	b, _, _, dyn := newTestAWSBackend()

	var stored entryItem
	dyn.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return *in.TableName == "entries" && dynamodbattribute.UnmarshalMap(in.Item, &stored) == nil
	})).Return(&dynamodb.PutItemOutput{}, nil)

	err := b.PutEntry(context.Background(), interfaces.EntryRecord{
		EntryID:      "e1",
		Metadata:     interfaces.NewEntryMetadata(map[string]string{"title": "Sunset"}, "beach"),
		BlobSequence: []interfaces.BlobID{"feb78a44d55c9169801cf606cd6041ad9a5f69c9.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "photos", stored.LibraryID)
	assert.Equal(t, "e1", stored.EntryID)
	assert.Equal(t, "Sunset", stored.Metadata.Attributes["title"])
	assert.Equal(t, []interfaces.BlobID{"feb78a44d55c9169801cf606cd6041ad9a5f69c9.png"}, stored.BlobSequence)
}

func TestAWSBackend_QueryEntriesPages(t *testing.T) {
	b, _, _, dyn := newTestAWSBackend()

	firstPage := mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil
	})
	secondPage := mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil && *in.ExclusiveStartKey["entry_id"].S == "e2"
	})
	dyn.On("QueryWithContext", mock.Anything, firstPage).Return(&dynamodb.QueryOutput{
		Items:            []map[string]*dynamodb.AttributeValue{entryItemFor(t, "e1"), entryItemFor(t, "e2")},
		LastEvaluatedKey: b.entryKey("e2"),
	}, nil)
	dyn.On("QueryWithContext", mock.Anything, secondPage).Return(&dynamodb.QueryOutput{
		Items: []map[string]*dynamodb.AttributeValue{entryItemFor(t, "e3")},
	}, nil)

	ids := collectIDs(t, b.QueryEntries(context.Background(), interfaces.EntryQuery{}))
	assert.Equal(t, []interfaces.EntryID{"e1", "e2", "e3"}, ids)
	dyn.AssertNumberOfCalls(t, "QueryWithContext", 2)
}

func TestAWSBackend_QueryEntriesCursor(t *testing.T) {
	b, _, _, dyn := newTestAWSBackend()

	dyn.On("QueryWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return !*in.ScanIndexForward &&
			*in.ExclusiveStartKey["entry_id"].S == "e3" &&
			*in.Limit == 1
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]*dynamodb.AttributeValue{entryItemFor(t, "e2")},
		LastEvaluatedKey: b.entryKey("e2"),
	}, nil)

	ids := collectIDs(t, b.QueryEntries(context.Background(), interfaces.EntryQuery{After: "e3", Reverse: true, Limit: 1}))
	assert.Equal(t, []interfaces.EntryID{"e2"}, ids)
	dyn.AssertNumberOfCalls(t, "QueryWithContext", 1)
}

func TestAWSBackend_QueryEntriesFailure(t *testing.T) {
	b, _, _, dyn := newTestAWSBackend()
	dyn.On("QueryWithContext", mock.Anything, mock.Anything).Return(nil, awserr.New("ProvisionedThroughputExceededException", "throttled", nil))

	for _, err := range b.QueryEntries(context.Background(), interfaces.EntryQuery{}) {
		assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	}
}
