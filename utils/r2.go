// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	appconfig "cashback-referral-system/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectStore is the subset of the S3 API the archive needs.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// EventArchive keeps the raw body of every order-paid webhook in R2 so
// events can be replayed after an outage.
type EventArchive struct {
	store  objectStore
	bucket string
	prefix string
}

const orderEventsPrefix = "orders-paid"

// NewR2Archive connects to the Cloudflare R2 bucket described by cfg.
func NewR2Archive(ctx context.Context, cfg appconfig.ArchiveConfig) (*EventArchive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return &EventArchive{store: client, bucket: cfg.Bucket, prefix: orderEventsPrefix}, nil
}

// ArchiveKey returns orders-paid/YYYY/MM/DD/<order>-<delivery>.json.
func (a *EventArchive) ArchiveKey(receivedAt time.Time, orderID, deliveryID string) string {
	if deliveryID == "" {
		deliveryID = fmt.Sprintf("%d", receivedAt.UnixNano())
	}
	name := sanitizeKeyPart(orderID) + "-" + sanitizeKeyPart(deliveryID) + ".json"
	return path.Join(a.prefix, receivedAt.UTC().Format("2006/01/02"), name)
}

// Put stores body under key.
func (a *EventArchive) Put(ctx context.Context, key string, body []byte) error {
	_, err := a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}
	return nil
}

// List returns the keys archived on the given days, oldest day first.
func (a *EventArchive) List(ctx context.Context, from, to time.Time) ([]string, error) {
	if to.Before(from) {
		return nil, errors.New("archive range end before start")
	}
	var keys []string
	for day := truncateDay(from); !day.After(truncateDay(to)); day = day.AddDate(0, 0, 1) {
		prefix := path.Join(a.prefix, day.Format("2006/01/02")) + "/"
		var token *string
		for {
			out, err := a.store.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(a.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: token,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
			}
			for _, obj := range out.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
			if !aws.ToBool(out.IsTruncated) {
				break
			}
			token = out.NextContinuationToken
		}
	}
	return keys, nil
}

// Get downloads one archived body.
func (a *EventArchive) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := a.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sanitizeKeyPart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
