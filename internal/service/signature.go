package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/models"
)

const (
	bindingVersion = "v1"
	// BindingBucket is the window a signature binding stays reproducible in.
	BindingBucket = time.Minute

	AlgorithmHMAC   = "hmac-sha256"
	AlgorithmSHA256 = "sha256"
)

var ErrVoucherRequired = fmt.Errorf("voucher id and type are required: %w", models.ErrValidation)

// VoucherRef identifies the voucher a signature is bound to.
type VoucherRef struct {
	ID   string
	Type string
}

// SignatureBinder derives a binding hash tying a signature image to one
// voucher, one signer role and one time bucket. With a key it is an HMAC.
type SignatureBinder struct {
	key []byte
}

func NewSignatureBinder(key string) *SignatureBinder {
	return &SignatureBinder{key: []byte(key)}
}

func (b *SignatureBinder) Algorithm() string {
	if len(b.key) > 0 {
		return AlgorithmHMAC
	}
	return AlgorithmSHA256
}

func (b *SignatureBinder) Bind(signature string, voucher VoucherRef, role string, at time.Time) (models.SignatureBinding, error) {
	if strings.TrimSpace(signature) == "" {
		return models.SignatureBinding{}, fmt.Errorf("%w: %w", domain.ErrSignatureRequired, models.ErrValidation)
	}
	if voucher.ID == "" || voucher.Type == "" {
		return models.SignatureBinding{}, ErrVoucherRequired
	}

	bucket := at.UTC().Truncate(BindingBucket)
	digest := signatureDigest(signature)
	return models.SignatureBinding{
		BindingHash:     b.hash(digest, voucher, role, bucket),
		SignatureDigest: digest,
		VoucherID:       voucher.ID,
		VoucherType:     voucher.Type,
		Role:            role,
		BucketStart:     bucket,
		Algorithm:       b.Algorithm(),
	}, nil
}

// Verify recomputes the binding for signature and compares in constant time.
func (b *SignatureBinder) Verify(binding models.SignatureBinding, signature string) bool {
	if binding.Algorithm != b.Algorithm() {
		return false
	}
	expected := b.hash(signatureDigest(signature), VoucherRef{ID: binding.VoucherID, Type: binding.VoucherType}, binding.Role, binding.BucketStart)
	return hmac.Equal([]byte(expected), []byte(binding.BindingHash))
}

func (b *SignatureBinder) hash(digest string, voucher VoucherRef, role string, bucket time.Time) string {
	message := strings.Join([]string{
		bindingVersion,
		digest,
		voucher.ID,
		voucher.Type,
		role,
		strconv.FormatInt(bucket.Unix(), 10),
	}, "|")

	if len(b.key) > 0 {
		mac := hmac.New(sha256.New, b.key)
		mac.Write([]byte(message))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// signatureDigest hashes the decoded image bytes of a data URL, or the raw
// string when it is not base64.
func signatureDigest(signature string) string {
	payload := strings.TrimSpace(signature)
	if i := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw = []byte(strings.TrimSpace(signature))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
