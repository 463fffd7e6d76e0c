package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// JWK represents a JSON Web Key.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// SigningKey is a parsed RSA keypair ready for use.
type SigningKey struct {
	Kid        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	RotatedAt  *time.Time
}

// KeyManager loads the RS256 signing keys from the platform signing_keys
// table and caches the parsed material. Exactly one key is current; rotated
// keys remain published in JWKS for seven days so verifiers can drain.
type KeyManager struct {
	master *pgxpool.Pool
	keys   repository.SigningKeyRepo

	mu       sync.RWMutex
	current  *SigningKey
	loadedAt time.Time
	reload   time.Duration
}

func NewKeyManager(master *pgxpool.Pool) *KeyManager {
	return &KeyManager{
		master: master,
		reload: 5 * time.Minute,
	}
}

// Current returns the signing key for new tokens, reloading from the
// database when the cached copy goes stale.
func (m *KeyManager) Current(ctx context.Context) (*SigningKey, error) {
	m.mu.RLock()
	if m.current != nil && time.Since(m.loadedAt) < m.reload {
		key := m.current
		m.mu.RUnlock()
		return key, nil
	}
	m.mu.RUnlock()

	record, err := m.keys.GetCurrent(ctx, m.master)
	if err != nil {
		return nil, fmt.Errorf("no current signing key: %w", err)
	}

	key, err := parseSigningKey(record)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = key
	m.loadedAt = time.Now()
	m.mu.Unlock()

	return key, nil
}

// ByKid loads a specific key for verification, current or rotated.
func (m *KeyManager) ByKid(ctx context.Context, kid string) (*SigningKey, error) {
	m.mu.RLock()
	if m.current != nil && m.current.Kid == kid {
		key := m.current
		m.mu.RUnlock()
		return key, nil
	}
	m.mu.RUnlock()

	record, err := m.keys.GetByID(ctx, m.master, kid)
	if err != nil {
		return nil, err
	}
	return parseSigningKey(record)
}

// JWKS builds the published key set: the current key plus keys rotated less
// than seven days ago. n and e are base64url big-endian per RFC 7518.
func (m *KeyManager) JWKS(ctx context.Context) (*JWKS, error) {
	records, err := m.keys.ListPublishable(ctx, m.master)
	if err != nil {
		return nil, err
	}

	set := &JWKS{Keys: []JWK{}}
	for _, record := range records {
		key, err := parseSigningKey(record)
		if err != nil {
			continue // skip unparseable rows rather than break JWKS
		}
		set.Keys = append(set.Keys, JWK{
			Kty: "RSA",
			Kid: key.Kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		})
	}
	return set, nil
}

// Rotate inserts a freshly generated key as current and demotes the previous
// one, stamping rotated_at. Runs in a single transaction so there is never
// zero or two current keys.
func (m *KeyManager) Rotate(ctx context.Context) (string, error) {
	privPEM, pubPEM, err := GenerateRSAKeyPEM(2048)
	if err != nil {
		return "", err
	}
	kid := "sig-" + uuid.NewString()[:8]

	err = storage.WithTx(ctx, m.master, func(tx pgx.Tx) error {
		if err := m.keys.DemoteCurrent(ctx, tx); err != nil {
			return err
		}
		return m.keys.Insert(ctx, tx, repository.SigningKey{
			ID:            kid,
			Algorithm:     "RS256",
			PublicKeyPEM:  pubPEM,
			PrivateKeyPEM: privPEM,
			IsCurrent:     true,
		})
	})
	if err != nil {
		return "", fmt.Errorf("key rotation failed: %w", err)
	}

	m.mu.Lock()
	m.current = nil // force reload
	m.mu.Unlock()

	return kid, nil
}

// EnsureKey bootstraps a signing key on first start.
func (m *KeyManager) EnsureKey(ctx context.Context) error {
	_, err := m.keys.GetCurrent(ctx, m.master)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	_, err = m.Rotate(ctx)
	return err
}

func parseSigningKey(record *repository.SigningKey) (*SigningKey, error) {
	priv, err := ParseRSAPrivateKeyPEM(record.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", record.ID, err)
	}
	return &SigningKey{
		Kid:        record.ID,
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
		RotatedAt:  record.RotatedAt,
	}, nil
}

// ParseRSAPrivateKeyPEM decodes a PEM private key, accepting PKCS1 and
// PKCS8 encodings.
func ParseRSAPrivateKeyPEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the private key")
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return priv, nil
	}

	key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err2 != nil {
		return nil, fmt.Errorf("failed to parse private key: %v | %v", err, err2)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not of type *rsa.PrivateKey")
	}
	return priv, nil
}

// GenerateRSAKeyPEM creates a new RSA keypair as (private, public) PEM.
func GenerateRSAKeyPEM(bits int) (string, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate rsa key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	return string(privPEM), string(pubPEM), nil
}
