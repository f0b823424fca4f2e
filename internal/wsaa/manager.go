// Package wsaa implements the WSAA credential handshake: access ticket
// construction, signing, loginCms submission and credential caching.
package wsaa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"go.uber.org/zap"
)

// LoginClient submits a signed ticket and returns the nested response document
type LoginClient interface {
	LoginCms(ctx context.Context, cms []byte) ([]byte, error)
}

// CredentialStore persists credentials across process restarts
type CredentialStore interface {
	Load(ctx context.Context, service string, cuit int64) (*models.Credential, error)
	Save(ctx context.Context, cred models.Credential) error
}

// ManagerConfig tunes ticket timing and the target service
type ManagerConfig struct {
	Service      string
	Cuit         int64
	TicketTTL    time.Duration
	ClockSkew    time.Duration
	ExpiryMargin time.Duration
}

// Manager acquires and caches WSAA credentials. It is safe for concurrent use;
// concurrent callers share a single handshake.
type Manager struct {
	cfg    ManagerConfig
	signer Signer
	client LoginClient
	store  CredentialStore
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *models.Credential
}

// NewManager creates a credential manager. store may be nil.
func NewManager(cfg ManagerConfig, signer Signer, client LoginClient, store CredentialStore, logger *zap.Logger) *Manager {
	if cfg.Service == "" {
		cfg.Service = "wsfe"
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = DefaultTicketTTL
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = models.DefaultExpiryMargin
	}
	return &Manager{
		cfg:    cfg,
		signer: signer,
		client: client,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire returns a usable credential, performing the handshake when the
// cached one is missing or about to expire
func (m *Manager) Acquire(ctx context.Context) (models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cached != nil && !m.cached.IsExpired(now, m.cfg.ExpiryMargin) {
		return *m.cached, nil
	}

	if m.store != nil {
		stored, err := m.store.Load(ctx, m.cfg.Service, m.cfg.Cuit)
		if err != nil {
			m.logger.Warn("Failed to load stored credential", zap.Error(err))
		} else if stored != nil && !stored.IsExpired(now, m.cfg.ExpiryMargin) {
			m.logger.Info("Reusing stored credential",
				zap.String("service", m.cfg.Service),
				zap.Time("expires_at", stored.ExpiresAt))
			m.cached = stored
			return *stored, nil
		}
	}

	cred, err := m.login(ctx, now)
	if err != nil {
		return models.Credential{}, err
	}
	m.cached = &cred

	if m.store != nil {
		if err := m.store.Save(ctx, cred); err != nil {
			m.logger.Warn("Failed to persist credential", zap.Error(err))
		}
	}
	return cred, nil
}

// Credential is Acquire under the name the query client expects
func (m *Manager) Credential(ctx context.Context) (models.Credential, error) {
	return m.Acquire(ctx)
}

func (m *Manager) login(ctx context.Context, now time.Time) (models.Credential, error) {
	ticket := BuildTicket(m.cfg.Service, now, m.cfg.TicketTTL, m.cfg.ClockSkew)
	doc, err := ticket.Marshal()
	if err != nil {
		return models.Credential{}, signingError(err)
	}

	cms, err := m.signer.Sign(ctx, doc)
	if err != nil {
		m.logger.Error("Failed to sign access ticket", zap.Error(err))
		if errors.Is(err, ErrSigning) {
			return models.Credential{}, err
		}
		return models.Credential{}, signingError(err)
	}

	raw, err := m.client.LoginCms(ctx, cms)
	if err != nil {
		m.logger.Error("WSAA loginCms failed", zap.Error(err))
		return models.Credential{}, err
	}

	cred, err := ParseTicketResponse(raw)
	if err != nil {
		m.logger.Error("Failed to parse loginTicketResponse", zap.Error(err))
		return models.Credential{}, err
	}
	cred.Service = m.cfg.Service
	cred.Cuit = m.cfg.Cuit

	m.logger.Info("WSAA authentication succeeded",
		zap.String("service", cred.Service),
		zap.Time("generated_at", cred.GeneratedAt),
		zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}
