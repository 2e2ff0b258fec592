package fulfillment

import (
	"context"
	"fmt"
	"log"

	"github.com/sirdesai22/mutualaid/internal/errs"
)

// BatchResult reports a mass operation row by row. A failed row never rolls
// back the rows that succeeded.
type BatchResult struct {
	Succeeded []int64          `json:"succeeded"`
	Failed    map[int64]string `json:"failed,omitempty"`
	Created   []string         `json:"created,omitempty"` // uuids of new rows, for CopyMany
}

func (b *BatchResult) fail(id int64, err error) {
	if b.Failed == nil {
		b.Failed = map[int64]string{}
	}
	b.Failed[id] = fmt.Sprintf("%s: %v", errs.Kind(err), err)
}

// OK reports whether every row succeeded.
func (b BatchResult) OK() bool { return len(b.Failed) == 0 }

// ConfirmMany confirms the delivery date of each request in its own
// transaction.
func (s *Service) ConfirmMany(ctx context.Context, ids []int64, actor Actor) BatchResult {
	var res BatchResult
	for _, id := range ids {
		if _, err := s.ConfirmDate(ctx, id, actor); err != nil {
			res.fail(id, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	log.Printf("📋 confirm-many: %d ok, %d failed", len(res.Succeeded), len(res.Failed))
	return res
}

// CopyMany copies each request in its own transaction.
func (s *Service) CopyMany(ctx context.Context, ids []int64, actor Actor) BatchResult {
	var res BatchResult
	for _, id := range ids {
		c, err := s.Copy(ctx, id, actor)
		if err != nil {
			res.fail(id, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
		res.Created = append(res.Created, c.UUID.String())
	}
	log.Printf("📋 copy-many: %d ok, %d failed", len(res.Succeeded), len(res.Failed))
	return res
}
