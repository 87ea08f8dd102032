package service

import (
	"context"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/pkg/utils/logger"

	"github.com/vmihailenco/msgpack"
	"go.uber.org/zap"
)

const cacheTimeout = time.Second

func verdictKey(sub model.Submission) string {
	return verdictKeyPrefix + string(sub.Judge) + ":" + sub.ID
}

// cachedVerdict returns a finished verdict another poller already published. Cache failures
// are logged and treated as a miss.
func (s *Service) cachedVerdict(ctx context.Context, sub model.Submission) (model.Submission, bool) {
	if s.cache == nil {
		return model.Submission{}, false
	}
	ctxCache, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	raw, err := s.cache.Get(ctxCache, verdictKey(sub))
	if err != nil {
		logger.Warn(ctx, "read verdict cache failed", zap.Error(err))
		return model.Submission{}, false
	}
	if raw == "" {
		return model.Submission{}, false
	}
	var cached model.Submission
	if err := msgpack.Unmarshal([]byte(raw), &cached); err != nil {
		logger.Warn(ctx, "decode cached verdict failed", zap.Error(err))
		return model.Submission{}, false
	}
	cached.Code = sub.Code
	return cached, true
}

func (s *Service) storeVerdict(ctx context.Context, sub model.Submission) {
	if s.cache == nil {
		return
	}
	data, err := msgpack.Marshal(sub)
	if err != nil {
		logger.Warn(ctx, "encode verdict failed", zap.Error(err))
		return
	}
	ctxCache, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := s.cache.Set(ctxCache, verdictKey(sub), data, s.verdictTTL); err != nil {
		logger.Warn(ctx, "write verdict cache failed", zap.Error(err))
	}
}
