// Пакет s3store - blob-хранилище поверх S3-совместимого объектного
// хранилища (AWS S3, MinIO, Ceph RGW).
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// DefaultPresignTTL - время жизни подписанной ссылки, если публичный URL не задан.
const DefaultPresignTTL = 15 * time.Minute

// Options - параметры подключения к S3.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
	// PublicURL - префикс публичных ссылок. Пусто - подписанные ссылки.
	PublicURL string
	PathStyle bool
	AccessKey string
	SecretKey string
	// PresignTTL - время жизни подписанной ссылки (0 - DefaultPresignTTL)
	PresignTTL time.Duration
	// HTTPClient - HTTP-клиент SDK (nil - клиент по умолчанию)
	HTTPClient *http.Client
}

// S3Store - BlobStore поверх S3.
type S3Store struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	publicURL  string
	presignTTL time.Duration
}

// New создаёт клиент S3. Учётные данные берутся из Options,
// иначе из стандартной цепочки SDK (env, профиль, IRSA).
func New(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("не задан bucket S3")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
		// S3-совместимые хранилища не всегда поддерживают CRC-трейлеры
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &S3Store{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     opts.Bucket,
		publicURL:  strings.TrimSuffix(opts.PublicURL, "/"),
		presignTTL: ttl,
	}, nil
}

// Put загружает объект. Поток без Seek буферизуется в памяти:
// подпись запроса без TLS требует перечитываемого тела.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}

	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("ошибка чтения данных: %w", err)
		}
		body = bytes.NewReader(data)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("ошибка загрузки объекта %s: %w", key, err)
	}

	return s.locator(ctx, key)
}

// Delete удаляет объект. S3 отвечает 204 и для отсутствующего ключа,
// поэтому наличие проверяется HeadObject перед удалением.
// HeadObject и DeleteObject не атомарны: при конкурентном удалении
// одного ключа Deleted могут получить оба вызова. Точный признак
// единственного удаления - результат удаления записи метаданных.
func (s *S3Store) Delete(ctx context.Context, key string) (model.DeleteResult, error) {
	if err := storage.ValidateKey(key); err != nil {
		return model.AlreadyAbsent, err
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return model.AlreadyAbsent, err
	}
	if !exists {
		return model.AlreadyAbsent, nil
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return model.AlreadyAbsent, nil
		}
		return model.AlreadyAbsent, fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return model.Deleted, nil
}

// LocatorFor возвращает ссылку на существующий объект.
func (s *S3Store) LocatorFor(ctx context.Context, key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	exists, err := s.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", storage.ErrNotFound
	}
	return s.locator(ctx, key)
}

// List перечисляет объекты bucket'а постранично.
func (s *S3Store) List(ctx context.Context) iter.Seq2[storage.BlobInfo, error] {
	return func(yield func(storage.BlobInfo, error) bool) {
		p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				yield(storage.BlobInfo{}, fmt.Errorf("ошибка получения списка объектов: %w", err))
				return
			}
			for _, obj := range page.Contents {
				info := storage.BlobInfo{
					Key:  aws.ToString(obj.Key),
					Size: aws.ToInt64(obj.Size),
				}
				if obj.LastModified != nil {
					info.ModTime = *obj.LastModified
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}

// exists проверяет наличие объекта через HeadObject.
func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки объекта %s: %w", key, err)
}

// locator строит публичную или подписанную ссылку.
func (s *S3Store) locator(ctx context.Context, key string) (string, error) {
	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи ссылки %s: %w", key, err)
	}
	return req.URL, nil
}

// isNotFound распознаёт ответ 404 независимо от кода ошибки S3.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ storage.BlobStore = (*S3Store)(nil)
