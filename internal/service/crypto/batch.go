package crypto

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatcipher/internal/model"
	"chatcipher/internal/payload"
	"chatcipher/internal/utils/log"
)

// DecryptBatch decrypts a page of messages in place, preserving order
// and positions. Messages are grouped by sender; each sender's bundle
// is resolved exactly once and groups run concurrently. One failing
// message, or one failing sender group, never blocks the rest.
func (s *Service) DecryptBatch(ctx context.Context, msgs []*model.Message) error {
	groups := make(map[string][]*model.Message)

	for _, m := range msgs {
		if !payload.ParseKind(m.Kind).BatchEligible() {
			continue
		}

		stored, err := s.messages.GetByUniqueID(ctx, m.UniqueID)
		if err != nil {
			log.Warn("message store lookup failed", zap.String("unique_id", m.UniqueID), zap.Error(err))
		}
		if stored != nil {
			m.Body = stored.Body
			continue
		}

		if m.SenderID == s.accountID {
			continue
		}

		groups[m.SenderID] = append(groups[m.SenderID], m)
	}

	if len(groups) == 0 {
		return nil
	}

	id, err := s.localIdentity(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(s.opts.BatchConcurrency)

	for sender, group := range groups {
		sender, group := sender, group
		g.Go(func() error {
			// one bundle resolution per sender, shared by the group
			col, err := s.directory.Resolve(ctx, sender)
			if err != nil {
				log.Error("resolve sender bundles failed, skipping group",
					zap.String("sender_id", sender),
					zap.Int("messages", len(group)),
					zap.Error(err))
				return nil
			}

			sess, err := s.factory.Create(id, sender, col)
			if err != nil {
				log.Error("create session failed, skipping group",
					zap.String("sender_id", sender), zap.Error(err))
				return nil
			}

			for _, m := range group {
				if err := s.decryptBody(ctx, sess, id.DeviceID, m); err != nil {
					log.Warn("decrypt message failed, keeping original",
						zap.String("unique_id", m.UniqueID), zap.Error(err))
				}
			}
			return nil
		})
	}

	return g.Wait()
}
