package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const orderSequenceTTL = 48 * time.Hour

// OrderNumberGenerator allocates human-readable order numbers of the form
// PREFIX-YYYYMMDD-NNNNNN from a daily sequence. Without a sequence it falls
// back to a timestamp plus a random suffix.
type OrderNumberGenerator struct {
	seq    SequenceAllocator
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewOrderNumberGenerator creates a generator. seq may be nil.
func NewOrderNumberGenerator(seq SequenceAllocator, prefix string) *OrderNumberGenerator {
	if prefix == "" {
		prefix = "ORD"
	}
	return &OrderNumberGenerator{
		seq:    seq,
		prefix: prefix,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Next returns a fresh order number
func (g *OrderNumberGenerator) Next(ctx context.Context) string {
	now := g.now().UTC()
	day := now.Format("20060102")

	if g.seq != nil {
		n, err := g.seq.NextSequence(ctx, "order:"+day, orderSequenceTTL)
		if err == nil {
			return fmt.Sprintf("%s-%s-%06d", g.prefix, day, n)
		}
		g.logger.Warn("Order sequence unavailable, using random suffix", zap.Error(err))
	}

	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", g.prefix, now.Format("20060102150405"), suffix)
}
