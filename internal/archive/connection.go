package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog/log"
)

// connectionString normalises url into a gocb connection string
func connectionString(url string) string {
	switch {
	case strings.HasPrefix(url, "couchbase://"), strings.HasPrefix(url, "couchbases://"):
		return url
	case strings.HasPrefix(url, "http://"):
		return "couchbase://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		return "couchbases://" + strings.TrimPrefix(url, "https://")
	default:
		return "couchbase://" + url
	}
}

// Connect opens bucket on the cluster at url and returns a Store writing to
// its default collection
func Connect(url, username, password, bucketName string) (*Store, error) {
	cluster, err := gocb.Connect(connectionString(url), gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	if err := cluster.WaitUntilReady(30*time.Second, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("failed to wait for cluster: %w", err)
	}

	// the bucket is provisioned out of band
	bucket := cluster.Bucket(bucketName)
	if err := bucket.WaitUntilReady(10*time.Second, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, fmt.Errorf("bucket '%s' is not accessible: %w", bucketName, err)
	}

	log.Info().Str("bucket", bucketName).Msg("Connected to Couchbase archive")

	return &Store{
		docs:  bucket.DefaultCollection(),
		close: func() error { return cluster.Close(nil) },
	}, nil
}
