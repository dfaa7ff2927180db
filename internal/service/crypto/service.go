// Package crypto is the encryption orchestration facade: it decides
// when sessions are created, what gets encrypted, and how ciphertext is
// addressed to device identities. The ratchet math itself lives in
// internal/protocol.
package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/bluele/gcache"

	"chatcipher/internal/cryptographic/dh"
	"chatcipher/internal/cryptographic/signature"
	"chatcipher/internal/model"
	"chatcipher/internal/session"
)

// ErrNoIdentity means InitLocalIdentity has not run yet for this
// account.
var ErrNoIdentity = errors.New("local device identity not initialized")

type (
	// BundleResolver is the key bundle directory surface this service
	// depends on.
	BundleResolver interface {
		Resolve(ctx context.Context, userID string) (*model.BundleCollection, error)
		Publish(ctx context.Context, userID string, deviceID model.DeviceID, bundle model.PublicKeyBundle) (*model.BundleCollection, error)
	}

	// MessageStore is the local message store used for decrypt
	// idempotence and reply hydration.
	MessageStore interface {
		GetByUniqueID(ctx context.Context, uniqueID string) (*model.Message, error)
		GetByID(ctx context.Context, id int64) (*model.Message, error)
	}

	// IdentityStore persists the local SenderDeviceIdentity.
	IdentityStore interface {
		Get(ctx context.Context, userID string) (*model.SenderDeviceIdentity, error)
		Save(ctx context.Context, id *model.SenderDeviceIdentity) error
	}

	Options struct {
		// FailClosed makes encryption failures fatal for the outgoing
		// message instead of falling back to plaintext.
		FailClosed bool

		// BatchConcurrency bounds how many sender groups decrypt at
		// once. Defaults to 4.
		BatchConcurrency int
	}

	Service struct {
		accountID  string
		directory  BundleResolver
		factory    *session.Factory
		messages   MessageStore
		identities IdentityStore
		opts       Options

		idMemo gcache.Cache
	}
)

func New(accountID string, directory BundleResolver, factory *session.Factory, messages MessageStore, identities IdentityStore, opts Options) *Service {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	return &Service{
		accountID:  accountID,
		directory:  directory,
		factory:    factory,
		messages:   messages,
		identities: identities,
		opts:       opts,
		idMemo:     gcache.New(1).LRU().Build(),
	}
}

// InitLocalIdentity creates and publishes the device identity on first
// run, and re-publishes an identity that never made it to the remote
// service. The identity is marked published only after the remote write
// is acknowledged.
func (s *Service) InitLocalIdentity(ctx context.Context) (*model.SenderDeviceIdentity, error) {
	id, err := s.identities.Get(ctx, s.accountID)
	if err != nil {
		return nil, err
	}

	if id != nil && id.Published {
		s.idMemo.Set(s.accountID, id)
		return id, nil
	}

	if id == nil {
		id, err = s.generateIdentity()
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.directory.Publish(ctx, s.accountID, id.DeviceID, id.Bundle.Public); err != nil {
		return nil, err
	}

	id.Published = true
	if err := s.identities.Save(ctx, id); err != nil {
		return nil, err
	}

	s.idMemo.Set(s.accountID, id)
	return id, nil
}

func (s *Service) generateIdentity() (*model.SenderDeviceIdentity, error) {
	deviceBytes := make([]byte, 32)
	if _, err := rand.Read(deviceBytes); err != nil {
		return nil, fmt.Errorf("generate device id: %w", err)
	}

	ikPriv, ikPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	spkPriv, spkPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	edPub, edPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}

	return &model.SenderDeviceIdentity{
		UserID:   s.accountID,
		DeviceID: model.NewDeviceID(deviceBytes),
		Bundle: model.DeviceBundle{
			Public: model.PublicKeyBundle{
				IdentityKey:  ikPub,
				SignedPreKey: spkPub,
				SigningKey:   edPub,
				PreKeySig:    signature.ED25519Sign(edPriv, spkPub[:]),
			},
			IdentityPriv:     ikPriv,
			SignedPreKeyPriv: spkPriv,
			SigningPriv:      edPriv,
		},
	}, nil
}

// localIdentity returns the persisted identity, memoized in process.
func (s *Service) localIdentity(ctx context.Context) (*model.SenderDeviceIdentity, error) {
	if v, err := s.idMemo.Get(s.accountID); err == nil {
		return v.(*model.SenderDeviceIdentity), nil
	}

	id, err := s.identities.Get(ctx, s.accountID)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ErrNoIdentity
	}

	s.idMemo.Set(s.accountID, id)
	return id, nil
}

// sessionWith resolves the remote user's bundles and creates a session
// for the pairing.
func (s *Service) sessionWith(ctx context.Context, remoteUserID string) (*session.Session, *model.SenderDeviceIdentity, error) {
	id, err := s.localIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}

	col, err := s.directory.Resolve(ctx, remoteUserID)
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.factory.Create(id, remoteUserID, col)
	if err != nil {
		return nil, nil, err
	}
	return sess, id, nil
}
