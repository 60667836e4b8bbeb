// Command upload puts a local receipt image into object storage and
// submits it for extraction through the ingest API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"receipt-ingest/internal/config"
)

func main() {
	idempotencyKey := flag.String("idempotency-key", "", "idempotency key for the ingest request (default: random)")
	mode := flag.String("mode", "presigned", "how the worker reaches the image: presigned or public")
	expires := flag.Duration("expires", 15*time.Minute, "presigned URL lifetime")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <image-path>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	imagePath := flag.Arg(0)

	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		log.Fatalf("s3 client: %v", err)
	}

	key, err := upload(ctx, client, cfg.S3Bucket, imagePath)
	if err != nil {
		log.Fatalf("upload %s: %v", imagePath, err)
	}
	log.Printf("uploaded s3://%s/%s", cfg.S3Bucket, key)

	uri, err := imageURI(ctx, client, cfg, key, *mode, *expires)
	if err != nil {
		log.Fatalf("resolve image uri: %v", err)
	}

	jobKey := *idempotencyKey
	if jobKey == "" {
		jobKey = uuid.New().String()
	}

	if err := submit(ctx, cfg.APIBaseURL, jobKey, uri); err != nil {
		log.Fatalf("submit ingest: %v", err)
	}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.S3Endpoint,
					HostnameImmutable: cfg.S3PathStyle,
					SigningRegion:     cfg.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

func upload(ctx context.Context, client *s3.Client, bucket, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(imagePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("%s/%s-%s",
		time.Now().UTC().Format("2006/01/02"),
		uuid.New().String(),
		filepath.Base(imagePath),
	)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func imageURI(ctx context.Context, client *s3.Client, cfg config.Config, key, mode string, expires time.Duration) (string, error) {
	switch mode {
	case "presigned":
		presigner := s3.NewPresignClient(client)
		req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(cfg.S3Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(expires))
		if err != nil {
			return "", fmt.Errorf("presign: %w", err)
		}
		return req.URL, nil
	case "public":
		base := cfg.S3PublicBase
		if base == "" {
			base = strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
		}
		return strings.TrimRight(base, "/") + "/" + key, nil
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}

func submit(ctx context.Context, apiBase, idempotencyKey, imageURI string) error {
	body, err := json.Marshal(map[string]string{"image_uri": imageURI})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(apiBase, "/")+"/receipts/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	log.Printf("ingest responded %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ingest rejected with status %d", resp.StatusCode)
	}
	return nil
}
