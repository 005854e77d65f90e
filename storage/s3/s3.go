// Package s3 implements the object store against any S3-compatible
// endpoint, MinIO included, using path-style addressing. The destination
// bucket is ensured at construction; a collector must not accept work
// against a bucket it cannot write.
package s3

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/storage"
)

// Parameters configure the S3 object store.
type Parameters struct {
	// Endpoint is the S3-compatible endpoint, scheme included. Also the
	// base of every synthesized object URL.
	Endpoint string

	// Bucket receives every extracted member.
	Bucket string

	// AccessKey and SecretKey are static credentials. Empty values fall
	// back to the SDK credential chain.
	AccessKey string
	SecretKey string

	// Region is required by the SDK even against non-AWS endpoints.
	Region string

	// Secure toggles TLS towards the endpoint.
	Secure bool
}

type objectStore struct {
	s3       s3iface.S3API
	bucket   string
	endpoint string
}

// New builds the store and ensures the bucket exists, creating it when
// absent. Any failure here is fatal for the component.
func New(ctx context.Context, params Parameters) (storage.ObjectStore, error) {
	if params.Endpoint == "" {
		return nil, fmt.Errorf("s3: no endpoint configured")
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("s3: no bucket configured")
	}
	if params.Region == "" {
		params.Region = "us-east-1"
	}

	awsConfig := aws.NewConfig().
		WithEndpoint(params.Endpoint).
		WithRegion(params.Region).
		WithS3ForcePathStyle(true).
		WithDisableSSL(!params.Secure)

	if params.AccessKey != "" && params.SecretKey != "" {
		awsConfig.WithCredentials(credentials.NewStaticCredentials(params.AccessKey, params.SecretKey, ""))
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("s3: creating session: %v", err)
	}

	store := newWithClient(s3.New(sess), params.Bucket, params.Endpoint)

	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// newWithClient is the seam tests use to inject a fake S3 API.
func newWithClient(client s3iface.S3API, bucket, endpoint string) *objectStore {
	return &objectStore{
		s3:       client,
		bucket:   bucket,
		endpoint: strings.TrimRight(endpoint, "/"),
	}
}

func (s *objectStore) ensureBucket(ctx context.Context) error {
	_, err := s.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, "NotFound":
			dcontext.GetLogger(ctx).Infof("s3: creating bucket %s", s.bucket)
			if _, err := s.s3.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
				Bucket: aws.String(s.bucket),
			}); err != nil {
				return storage.Error{Op: "create bucket", Object: s.bucket, Err: err}
			}
			return nil
		}
	}

	return storage.Error{Op: "head bucket", Object: s.bucket, Err: err}
}

func (s *objectStore) Upload(ctx context.Context, objectName, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", storage.Error{Op: "upload", Object: objectName, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", storage.Error{Op: "upload", Object: objectName, Err: err}
	}

	_, err = s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectName),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String(storage.ContentType(objectName)),
	})
	if err != nil {
		return "", storage.Error{Op: "upload", Object: objectName, Err: err}
	}

	return s.URL(objectName), nil
}

func (s *objectStore) Delete(ctx context.Context, objectName string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectName),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil
		}
		return storage.Error{Op: "delete", Object: objectName, Err: err}
	}
	return nil
}

func (s *objectStore) URL(objectName string) string {
	return s.endpoint + "/" + s.bucket + "/" + objectName
}
