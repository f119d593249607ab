package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/pmdash/internal/common"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
)

// S3API is the part of *s3.Client the repository needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const defaultS3MaxAttempts = 8

// S3Repository keeps the whole collection as one JSON object, a map from
// username to user. Writes are conditional on the ETag read (If-Match), or
// on the object not existing yet (If-None-Match: *), and are retried from a
// fresh read when another writer got there first.
type S3Repository struct {
	client      S3API
	bucket      string
	key         string
	maxAttempts int
}

func NewS3Repository(client S3API, bucket, key string) *S3Repository {
	return &S3Repository{client: client, bucket: bucket, key: key, maxAttempts: defaultS3MaxAttempts}
}

type userCollection map[string]*models.User

// load returns the collection and its ETag; a missing object is an empty
// collection with an empty ETag.
func (r *S3Repository) load(ctx context.Context) (userCollection, string, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return userCollection{}, "", nil
		}
		return nil, "", fmt.Errorf("s3 error: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("s3 error: %w", err)
	}

	users := userCollection{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, "", fmt.Errorf("decode %s: %w", r.key, err)
		}
	}
	for k, u := range users {
		if u == nil {
			delete(users, k)
			continue
		}
		if u.Username == "" {
			u.Username = k
		}
	}
	return users, aws.ToString(out.ETag), nil
}

func (r *S3Repository) save(ctx context.Context, users userCollection, etag string) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if etag == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(etag)
	}

	if _, err := r.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("s3 error: %w", err)
	}
	return nil
}

// modify runs fn against a fresh copy of the collection and writes it back,
// retrying on a lost compare-and-swap.
func (r *S3Repository) modify(ctx context.Context, fn func(users userCollection) error) error {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		users, etag, err := r.load(ctx)
		if err != nil {
			return err
		}
		if err := fn(users); err != nil {
			return err
		}
		err = r.save(ctx, users, etag)
		if !errors.Is(err, common.ErrVersionConflict) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return common.ErrVersionConflict
}

func (r *S3Repository) Get(ctx context.Context, username string) (*models.User, error) {
	users, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := users[models.NormalizeUsername(username)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (r *S3Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, common.ErrorNotFound
	}
	users, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	var found *models.User
	for _, u := range users {
		if models.NormalizeEmail(u.Email) == email && (found == nil || u.CreatedAt.Before(found.CreatedAt)) {
			found = u
		}
	}
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *S3Repository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	err := r.modify(ctx, func(users userCollection) error {
		if _, ok := users[user.Username]; ok {
			return common.ErrorAlreadyExists
		}
		u := user.Clone()
		u.Version = 1
		users[u.Username] = u
		return nil
	})
	if err != nil {
		return err
	}
	user.Version = 1
	return nil
}

func (r *S3Repository) Update(ctx context.Context, username string, mutate MutateFunc) (*models.User, error) {
	key := models.NormalizeUsername(username)
	var updated *models.User

	err := r.modify(ctx, func(users userCollection) error {
		stored, ok := users[key]
		if !ok {
			return common.ErrorNotFound
		}
		u := stored.Clone()
		if err := applyMutation(u, mutate); err != nil {
			return err
		}
		u.Version++
		users[key] = u
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (r *S3Repository) Delete(ctx context.Context, username string) error {
	key := models.NormalizeUsername(username)
	return r.modify(ctx, func(users userCollection) error {
		if _, ok := users[key]; !ok {
			return common.ErrorNotFound
		}
		delete(users, key)
		return nil
	})
}

func (r *S3Repository) Count(ctx context.Context) (int, error) {
	users, _, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	status := httpStatus(err)
	return status == http.StatusPreconditionFailed || status == http.StatusConflict
}

func httpStatus(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
