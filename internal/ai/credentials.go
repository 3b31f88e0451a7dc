package ai

import (
	"errors"
	"strings"
	"sync"
)

var ErrNoCredentials = errors.New("ai: no credentials configured")

// Credential is one provider access key. Index is its position in the pool.
type Credential struct {
	Index  int
	Secret string
}

// CredentialPool is an ordered set of credentials with a shared rotation cursor.
// The cursor is pool-wide so a later call starts from the last credential that worked.
type CredentialPool struct {
	mu     sync.Mutex
	creds  []Credential
	active int
}

// NewCredentialPool drops blank secrets and keeps the rest in order.
func NewCredentialPool(secrets []string) (*CredentialPool, error) {
	creds := make([]Credential, 0, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		creds = append(creds, Credential{Index: len(creds), Secret: s})
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	return &CredentialPool{creds: creds}, nil
}

func (p *CredentialPool) Size() int { return len(p.creds) }

// Active returns the credential under the cursor.
func (p *CredentialPool) Active() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[p.active]
}

// Rotate advances the cursor past from and returns the new active credential.
// If another caller already moved the cursor off from, the cursor is left alone
// so one quota failure never skips a credential twice.
func (p *CredentialPool) Rotate(from int) Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == from {
		p.active = (p.active + 1) % len(p.creds)
	}
	return p.creds[p.active]
}
