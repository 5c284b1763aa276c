package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Inspector inspects an S3-compatible bucket, following the same
// config-loading and client-construction pattern as the audit log's S3
// archiver: region and credentials come from the standard AWS environment
// variables/profile chain.
type S3Inspector struct {
	client *s3.Client
}

func NewS3Inspector(ctx context.Context) (*S3Inspector, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Inspector{client: s3.NewFromConfig(cfg)}, nil
}

func (ins *S3Inspector) Head(ctx context.Context, bucket, objectKey string) (ObjectInfo, error) {
	out, err := ins.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return ObjectInfo{Exists: false}, nil
		}
		return ObjectInfo{}, fmt.Errorf("head object %s/%s: %w", bucket, objectKey, err)
	}
	info := ObjectInfo{Exists: true}
	if out.ContentLength != nil {
		info.SizeBytes = *out.ContentLength
	}
	if out.ETag != nil {
		info.ETag = *out.ETag
	}
	// S3 lowercases metadata keys and strips the x-amz-meta- prefix, so an
	// upload that set X-Amz-Meta-Sha256 shows up here as "sha256".
	if sum, ok := out.Metadata["sha256"]; ok && sum != "" {
		info.Checksum = strings.ToLower(sum)
	} else {
		info.Checksum = normalizeETag(info.ETag)
	}
	return info, nil
}

func (ins *S3Inspector) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(ins.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}
