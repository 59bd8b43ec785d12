package probe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/amp-labs/amp-retry/envutil"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore checks an S3-compatible endpoint. With a bucket it requires the
// bucket to exist; without one it lists buckets, which proves the endpoint is
// up and the credentials are accepted.
type ObjectStore struct {
	Endpoint  string
	Bucket    string
	Region    string
	Secure    bool
	AccessKey string
	SecretKey string //nolint:gosec // not logged; String omits it
}

var _ Probe = (*ObjectStore)(nil)

// NewObjectStore builds a probe from s3://[key:secret@]host:port[/bucket].
// Query parameters: secure=true for TLS, region=<name>. Credentials missing
// from the URL are read from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.
func NewObjectStore(u *url.URL) (*ObjectStore, error) {
	store := &ObjectStore{
		Endpoint: u.Host,
		Bucket:   strings.Trim(u.Path, "/"),
		Region:   u.Query().Get("region"),
	}

	if raw := u.Query().Get("secure"); raw != "" {
		secure, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: secure=%q", ErrInvalidTarget, raw)
		}

		store.Secure = secure
	}

	if strings.Contains(store.Bucket, "/") {
		return nil, fmt.Errorf("%w: s3 target takes a bucket, not an object path", ErrInvalidTarget)
	}

	if u.User != nil {
		store.AccessKey = u.User.Username()
		store.SecretKey, _ = u.User.Password()
	}

	if store.AccessKey == "" {
		store.AccessKey = envutil.String("AWS_ACCESS_KEY_ID").ValueOrElse("")
	}

	if store.SecretKey == "" {
		store.SecretKey = envutil.String("AWS_SECRET_ACCESS_KEY").ValueOrElse("")
	}

	if store.AccessKey == "" || store.SecretKey == "" {
		return nil, fmt.Errorf("%w for %s", ErrMissingCredentials, store.Endpoint)
	}

	return store, nil
}

func (o *ObjectStore) Kind() string {
	return "s3"
}

func (o *ObjectStore) String() string {
	return "s3://" + o.Endpoint + "/" + o.Bucket
}

func (o *ObjectStore) Check(ctx context.Context) error {
	client, err := minio.New(o.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure:    o.Secure,
		Region:    o.Region,
		Transport: newTransport(false),
	})
	if err != nil {
		return annotate(o, err)
	}

	if o.Bucket == "" {
		_, err = client.ListBuckets(ctx)

		return annotate(o, err)
	}

	exists, err := client.BucketExists(ctx, o.Bucket)
	if err != nil {
		return annotate(o, err)
	}

	if !exists {
		return annotate(o, fmt.Errorf("%w: %s", ErrBucketMissing, o.Bucket))
	}

	return nil
}
