package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

// S3API is the part of the S3 client the AmazonS3 source and sink use.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Credentials is the vault secret named by an AmazonS3 address's keyName.
type S3Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

const defaultS3Region = "us-east-1"

// S3Factory is the source and sink for AmazonS3 addresses.
type S3Factory struct {
	vault vault.Vault
	// newClient builds the client for an address; tests replace it.
	newClient func(ctx context.Context, addr model.DataAddress) (S3API, error)
}

// NewS3Factory creates the factory. Credentials come from the vault when the
// address names a key, otherwise from the default AWS chain.
func NewS3Factory(v vault.Vault) *S3Factory {
	f := &S3Factory{vault: v}
	f.newClient = f.client
	return f
}

// Type implements DataSourceFactory and DataSinkFactory.
func (f *S3Factory) Type() string { return model.TypeAmazonS3 }

func validateS3(addr model.DataAddress, needObject bool) error {
	if addr.GetString(model.KeyBucketName) == "" {
		return fmt.Errorf("bucketName is required")
	}
	if needObject && addr.GetString(model.KeyObjectName) == "" {
		return fmt.Errorf("objectName is required")
	}
	return nil
}

// ValidateSource implements DataSourceFactory.
func (f *S3Factory) ValidateSource(addr model.DataAddress) error { return validateS3(addr, true) }

// ValidateSink implements DataSinkFactory. Without objectName each part is
// stored under its own name.
func (f *S3Factory) ValidateSink(addr model.DataAddress) error { return validateS3(addr, false) }

func (f *S3Factory) client(ctx context.Context, addr model.DataAddress) (S3API, error) {
	region := addr.GetString(model.KeyRegion)
	if region == "" {
		region = defaultS3Region
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if name := addr.KeyName(); name != "" {
		if f.vault == nil {
			return nil, errors.NewValidationError("keyName", "no vault to resolve "+name, nil)
		}
		raw, err := f.vault.ResolveSecret(ctx, name)
		if err != nil {
			return nil, err
		}
		var creds S3Credentials
		if err := json.Unmarshal([]byte(raw), &creds); err != nil {
			return nil, errors.NewValidationError("keyName", "secret "+name+" is not an S3 credentials document", nil)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := addr.GetString(model.KeyEndpointOverride)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// CreateSource implements DataSourceFactory.
func (f *S3Factory) CreateSource(ctx context.Context, msg signaling.DataFlowStartMessage) (DataSource, error) {
	c, err := f.newClient(ctx, msg.SourceDataAddress)
	if err != nil {
		return nil, err
	}
	return &s3Source{client: c, addr: msg.SourceDataAddress}, nil
}

// CreateSink implements DataSinkFactory.
func (f *S3Factory) CreateSink(ctx context.Context, msg signaling.DataFlowStartMessage) (DataSink, error) {
	c, err := f.newClient(ctx, msg.DestinationDataAddress)
	if err != nil {
		return nil, err
	}
	return &s3Sink{client: c, addr: msg.DestinationDataAddress}, nil
}

type s3Source struct {
	client S3API
	addr   model.DataAddress
}

func (s *s3Source) Each(ctx context.Context, fn func(Part) error) error {
	bucket := s.addr.GetString(model.KeyBucketName)
	key := s.addr.GetString(model.KeyObjectName)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return errors.NewServiceError("s3", "get "+bucket+"/"+key, 0, err)
	}
	return fn(&readerPart{name: key, body: out.Body})
}

func (s *s3Source) Close() error { return nil }

type s3Sink struct {
	client S3API
	addr   model.DataAddress
}

func (s *s3Sink) Write(ctx context.Context, p Part) error {
	in, err := p.Open()
	if err != nil {
		return err
	}
	// The SDK needs a seekable body to sign and checksum the upload.
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return err
	}
	bucket := s.addr.GetString(model.KeyBucketName)
	key := s.addr.GetString(model.KeyObjectName)
	if key == "" {
		key = p.Name()
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.NewServiceError("s3", "put "+bucket+"/"+key, 0, err)
	}
	return nil
}

func (s *s3Sink) Close() error { return nil }
