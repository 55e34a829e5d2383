package workflow

import (
	"context"
	"time"

	"github.com/roundup-invest/receipt-review/pkg/receiptapi"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
)

const learningTimeout = 30 * time.Second

// directLearning submits corrections on its own goroutine. Failures are
// logged and otherwise ignored.
type directLearning struct {
	client receiptapi.Client
	log    *zap.SugaredLogger
}

func (d *directLearning) Submit(submission types.LearningSubmission) {
	if d.client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), learningTimeout)
		defer cancel()
		if err := d.client.SubmitToLearning(ctx, &submission); err != nil {
			d.log.Warnw("Learning submission failed", "receiptId", submission.ReceiptID, "transactionId", submission.TransactionID, "error", err)
		}
	}()
}
