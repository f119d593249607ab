package users

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

// fakeS3 is a single-object store honouring If-Match / If-None-Match.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	etags   map[string]string
	seq     int
	puts    int
	getErr  error
	// beforePut runs once, before the first conditional check, to simulate
	// a concurrent writer.
	beforePut func()
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
		ETag: aws.String(f.etags[aws.ToString(in.Key)]),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if hook := f.takeHook(); hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	current, exists := f.etags[key]

	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}
	}
	if in.IfMatch != nil && aws.ToString(in.IfMatch) != current {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.seq++
	f.puts++
	f.objects[key] = data
	f.etags[key] = fmt.Sprintf(`"%d"`, f.seq)
	return &s3.PutObjectOutput{ETag: aws.String(f.etags[key])}, nil
}

func (f *fakeS3) takeHook() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.beforePut
	f.beforePut = nil
	return h
}

func newS3Repo(client S3API) *S3Repository {
	r := NewS3Repository(client, "pmdash", "users.json")
	r.maxAttempts = 32
	return r
}

func TestS3Repository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository { return newS3Repo(newFakeS3()) })
}

func TestS3Repository_RetriesLostCAS(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	repo := newS3Repo(fake)
	require.NoError(t, repo.Create(ctx, newUser("alice", "a@example.com", models.RoleClient)))
	require.NoError(t, repo.Create(ctx, newUser("bob", "b@example.com", models.RoleClient)))

	// Another writer changes bob between our read and our write of alice.
	fake.beforePut = func() {
		other := NewS3Repository(fake, "pmdash", "users.json")
		_, err := other.Update(ctx, "bob", func(u *models.User) error {
			u.Email = "bob@new.example.com"
			return nil
		})
		require.NoError(t, err)
	}

	_, err := repo.Update(ctx, "alice", func(u *models.User) error {
		u.Email = "alice@new.example.com"
		return nil
	})
	require.NoError(t, err)

	alice, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	bob, err := repo.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", alice.Email)
	assert.Equal(t, "bob@new.example.com", bob.Email, "concurrent write must survive")
}

func TestS3Repository_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	client := &alwaysConflictS3{fakeS3: newFakeS3()}
	repo := NewS3Repository(client, "pmdash", "users.json")

	err := repo.Create(ctx, newUser("alice", "", models.RoleClient))
	assert.Error(t, err)
	assert.Equal(t, defaultS3MaxAttempts, client.attempts)
}

func TestS3Repository_GetError(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("network down")
	repo := NewS3Repository(fake, "pmdash", "users.json")

	_, err := repo.Get(context.Background(), "alice")
	assert.ErrorContains(t, err, "s3 error")
}

func TestS3Repository_ReadsOriginalDocument(t *testing.T) {
	fake := newFakeS3()
	fake.objects["users.json"] = []byte(`{
  "admin": {
    "username": "admin",
    "passwordHash": "$2a$12$abc",
    "email": "admin@eruptible.co.uk",
    "role": "admin",
    "twoFactorEnabled": false,
    "twoFactorSecret": null,
    "createdAt": "2025-06-01T10:00:00.000Z",
    "lastLogin": null
  }
}`)
	fake.etags["users.json"] = `"1"`
	repo := NewS3Repository(fake, "pmdash", "users.json")

	u, err := repo.GetByEmail(context.Background(), "ADMIN@eruptible.co.uk")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Username)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.Nil(t, u.TwoFactorSecret)
}

type alwaysConflictS3 struct {
	*fakeS3
	attempts int
}

func (a *alwaysConflictS3) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	a.attempts++
	return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
}
