package middleware

import (
	"time"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// KeyValidator is the store-backed TokenValidator. Probe tokens are not
// accepted here; the connection-test callback consumes those itself.
type KeyValidator struct {
	store store.Store
}

// NewKeyValidator creates a validator over the shared store.
func NewKeyValidator(st store.Store) *KeyValidator {
	return &KeyValidator{store: st}
}

// ValidateKey resolves a key to its token binding.
func (v *KeyValidator) ValidateKey(key string) (*model.AgentToken, error) {
	token, err := v.store.Token().GetByKey(key)
	if err != nil {
		return nil, errors.ErrForbidden("unknown agent key")
	}
	if token.Kind == model.TokenKindConnTest {
		return nil, errors.ErrForbidden("probe keys are not valid here")
	}
	if token.Expired(time.Now()) {
		return nil, errors.ErrForbidden("agent key expired")
	}
	return token, nil
}
