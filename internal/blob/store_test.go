package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	objects map[string][]byte
	types   map[string]string
	deleted []string
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, _ := io.ReadAll(in.Body)
	m.objects[aws.ToString(in.Key)] = data
	m.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(m.types[aws.ToString(in.Key)]),
	}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.Key))
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type mockPresigner struct {
	ttl time.Duration
}

func (m *mockPresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	m.ttl = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(in.Key)}, nil
}

func TestStore_PutGetDelete(t *testing.T) {
	s3c := newMockS3()
	store := NewStore(s3c, "rx-bucket", "ap-northeast-2", nil)
	ctx := context.Background()

	obj, err := store.Put(ctx, "user-1", "Scan.JPG", "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Key, "prescriptions/user-1/"))
	assert.True(t, strings.HasSuffix(obj.Key, ".jpg"))
	assert.Equal(t, "https://rx-bucket.s3.ap-northeast-2.amazonaws.com/"+obj.Key, obj.URL)

	data, ct, err := store.Get(ctx, obj.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
	assert.Equal(t, "image/jpeg", ct)

	require.NoError(t, store.Delete(ctx, obj.Key))
	assert.Equal(t, []string{obj.Key}, s3c.deleted)

	_, _, err = store.Get(ctx, obj.Key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_KeysAreUnique(t *testing.T) {
	store := NewStore(newMockS3(), "b", "r", nil, WithPublicBaseURL("http://localhost:4566/b/"))
	a, err := store.Put(context.Background(), "u", "a.png", "image/png", nil)
	require.NoError(t, err)
	b, err := store.Put(context.Background(), "u", "a.png", "image/png", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key)
	assert.True(t, strings.HasPrefix(a.URL, "http://localhost:4566/b/prescriptions/"))
}

func TestStore_PutError(t *testing.T) {
	s3c := newMockS3()
	s3c.putErr = errors.New("access denied")
	store := NewStore(s3c, "b", "r", nil)
	_, err := store.Put(context.Background(), "u", "a.png", "image/png", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestStore_PresignURL(t *testing.T) {
	presigner := &mockPresigner{}
	store := NewStore(newMockS3(), "b", "r", nil, WithPresigner(presigner))

	url, err := store.PresignURL(context.Background(), "prescriptions/u/1.jpg", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/prescriptions/u/1.jpg", url)
	assert.Equal(t, 15*time.Minute, presigner.ttl)

	_, err = NewStore(newMockS3(), "b", "r", nil).PresignURL(context.Background(), "k", time.Minute)
	require.Error(t, err)
}
