package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports"
)

const (
	// EnvelopeNodeID is the service node that carries the ciphertext.
	EnvelopeNodeID = "__envelope__"
	envelopeKey    = "__encrypted__"
)

var (
	// ErrNotEncrypted is returned when a stored form lacks the encrypted envelope.
	ErrNotEncrypted = errors.New("form is missing encrypted data envelope")
	// ErrDecrypt is returned when no configured key opens the envelope.
	ErrDecrypt = errors.New("decryption failed with all available keys")
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.FormStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts forms using AES-GCM.
// The stored document is an envelope form: same id, no metadata, a single
// service node whose attributes hold the ciphertext.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.FormStore) ports.FormStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, state *domain.FormState) error {
	plain, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal form: %w", err)
	}
	sealed, err := seal(m.config.ActiveKey, plain, []byte(state.ID))
	if err != nil {
		return fmt.Errorf("failed to encrypt form: %w", err)
	}

	envelope := domain.NewFormState(state.ID, "", "")
	root := envelope.Root()
	root.ChildIDs = []string{EnvelopeNodeID}
	envelope.Nodes[EnvelopeNodeID] = &domain.ServiceNode{
		NodeBase:    domain.NodeBase{ID: EnvelopeNodeID, ParentID: root.ID},
		Attributes:  map[string]any{envelopeKey: base64.StdEncoding.EncodeToString(sealed)},
		QuestionIDs: []string{},
	}
	return m.next.Save(ctx, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	envelope, err := m.next.Load(ctx, formID)
	if err != nil {
		return nil, err
	}

	// Fail secure: plain forms are not accepted once encryption is configured.
	svc, ok := envelope.Nodes[EnvelopeNodeID].(*domain.ServiceNode)
	if !ok {
		return nil, ErrNotEncrypted
	}
	encoded, ok := svc.Attributes[envelopeKey].(string)
	if !ok {
		return nil, ErrNotEncrypted
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	// The form id is authenticated data: an envelope copied under another id fails to open.
	keys := append([][]byte{m.config.ActiveKey}, m.config.FallbackKeys...)
	for _, key := range keys {
		plain, err := open(key, sealed, []byte(formID))
		if err == nil {
			return domain.ParseFormState(plain)
		}
	}
	return nil, fmt.Errorf("failed to decrypt form %q: %w", formID, ErrDecrypt)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, formID string) error {
	return m.next.Delete(ctx, formID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal returns nonce || ciphertext.
func seal(key, plain, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, aad), nil
}

func open(key, sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], aad)
}
