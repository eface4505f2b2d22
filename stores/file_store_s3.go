package stores

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/viper"

	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// S3FileStore implements FileStore against an S3-compatible object store,
// which also covers self-hosted setups running MinIO.
type S3FileStore struct {
	Client     *s3.Client
	Bucket     string
	ReqTimeout time.Duration
}

// NewS3FileStore builds the store from env configuration. A custom endpoint
// switches the client to path-style addressing, which MinIO requires.
func NewS3FileStore() (*S3FileStore, *se.Err) {
	endpoint := viper.GetString(cst.EnvS3Endpoint)
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(viper.GetString(cst.EnvS3Region)),
	}
	if ak, sk := viper.GetString(cst.EnvS3AccessKey), viper.GetString(cst.EnvS3SecretKey); ak != "" && sk != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}
	cfg, err := awsConfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, se.NewServiceFailure("failed loading s3 client config").WithCause(err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	timeout := viper.GetDuration(cst.EnvS3ReqTimeout)
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &S3FileStore{
		Client:     client,
		Bucket:     viper.GetString(cst.EnvS3Bucket),
		ReqTimeout: timeout,
	}, nil
}

func (fs *S3FileStore) BlobKey(hash string, typ md.ShoutType) string {
	return hash + typ.Ext()
}

func (fs *S3FileStore) Save(key string, r io.Reader, maxSize int64) *se.Err {
	// PutObject needs the payload length up front, so buffer it; payload caps
	// keep the buffer bounded
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return se.NewServiceFailure("error reading shout payload data").WithCause(err)
	}
	if int64(len(data)) > maxSize {
		return se.NewOversized()
	}
	ctx, cancel := fs.reqCtx()
	defer cancel()
	if _, err := fs.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(fs.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return se.NewServiceFailure("error saving shout payload data").WithCause(err)
	}
	return nil
}

func (fs *S3FileStore) Get(key string) (io.ReadCloser, *se.Err) {
	// no request timeout here - the context must outlive the returned body,
	// which callers stream at their own pace
	out, err := fs.Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(fs.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, se.NewNotFound("shout payload not found").WithCause(err)
		}
		return nil, se.NewServiceFailure("error retrieving shout payload").WithCause(err)
	}
	return out.Body, nil
}

func (fs *S3FileStore) Delete(key string) *se.Err {
	ctx, cancel := fs.reqCtx()
	defer cancel()
	// s3 treats deleting a missing key as success so this stays idempotent
	if _, err := fs.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return se.NewServiceFailure("error removing shout payload").WithCause(err)
	}
	return nil
}

func (fs *S3FileStore) Close() *se.Err {
	return nil
}

func (fs *S3FileStore) reqCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), fs.ReqTimeout)
}
