package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry = 5 * time.Minute
	maxDownloadExpiry     = 15 * time.Minute
)

var (
	errNoSigner      = errors.New("storage: signer is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
)

// Signer signs payloads for V4 signed URLs.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// URLSigner issues short-lived download links for archived objects.
type URLSigner struct {
	signer Signer
	now    func() time.Time
}

// NewURLSigner constructs a URLSigner. A nil clock uses time.Now.
func NewURLSigner(signer Signer, clock func() time.Time) (*URLSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	if clock == nil {
		clock = time.Now
	}
	return &URLSigner{signer: signer, now: clock}, nil
}

// DownloadURL is a signed GET link and its expiry.
type DownloadURL struct {
	URL       string
	ExpiresAt time.Time
}

// DownloadURL signs a GET for bucket/object. The link forces a JSON attachment download.
func (s *URLSigner) DownloadURL(ctx context.Context, bucket, object string, expiresIn time.Duration) (DownloadURL, error) {
	if s == nil {
		return DownloadURL{}, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return DownloadURL{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return DownloadURL{}, errInvalidObject
	}
	if expiresIn <= 0 {
		expiresIn = defaultDownloadExpiry
	}
	if expiresIn > maxDownloadExpiry {
		return DownloadURL{}, errExpiryTooLong
	}

	name := object[strings.LastIndex(object, "/")+1:]
	expires := s.now().Add(expiresIn)
	query := url.Values{}
	query.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", name))
	query.Set("response-content-type", recordContentType)
	opts := &gcs.SignedURLOptions{
		GoogleAccessID:  s.signer.Email(),
		Scheme:          gcs.SigningSchemeV4,
		Method:          "GET",
		Expires:         expires,
		QueryParameters: query,
	}
	opts.SignBytes = func(payload []byte) ([]byte, error) {
		return s.signer.SignBytes(ctx, payload)
	}
	signed, err := gcs.SignedURL(bucket, object, opts)
	if err != nil {
		return DownloadURL{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return DownloadURL{URL: signed, ExpiresAt: expires}, nil
}

// ServiceAccountSigner signs with a service account private key.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewServiceAccountSigner builds a signer from a service account JSON key, typically
// resolved from Secret Manager.
func NewServiceAccountSigner(data []byte) (*ServiceAccountSigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account JSON is empty")
	}
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	if strings.TrimSpace(key.ClientEmail) == "" || strings.TrimSpace(key.PrivateKey) == "" {
		return nil, errors.New("storage: client_email and private_key are required")
	}
	rsaKey, err := parseRSAPrivateKey(key.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: strings.TrimSpace(key.ClientEmail), key: rsaKey}, nil
}

// Email returns the service account email.
func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes applies RSA SHA256 over the payload.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("storage: private key is not RSA")
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return rsaKey, nil
}
