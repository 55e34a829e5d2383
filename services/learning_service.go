package services

import (
	"context"
	"fmt"

	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/pkg/receiptapi"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
)

// LearningService queues learning submissions on the worker pool so that
// confirmation never waits on the learning endpoint.
type LearningService struct {
	pool *WorkerPool
	log  *zap.SugaredLogger
}

func NewLearningService(pool *WorkerPool) *LearningService {
	return &LearningService{pool: pool, log: logger.GetLogger().Named("learning")}
}

// For returns a submitter that sends through client, which carries the
// credentials of the session that confirmed the transaction.
func (s *LearningService) For(client receiptapi.Client) workflow.LearningSubmitter {
	return &queuedSubmitter{service: s, client: client}
}

type queuedSubmitter struct {
	service *LearningService
	client  receiptapi.Client
}

func (q *queuedSubmitter) Submit(submission types.LearningSubmission) {
	queued := q.service.pool.Submit(Job{
		Name: fmt.Sprintf("learning:%s", submission.TransactionID),
		Execute: func(ctx context.Context) error {
			return q.client.SubmitToLearning(ctx, &submission)
		},
	})
	if !queued {
		q.service.log.Warnw("Learning submission dropped", "receiptId", submission.ReceiptID, "transactionId", submission.TransactionID)
	}
}
