package matching

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// ValidateSubmit normalizes a raw submission into a pending queue item, or
// rejects it with a ValidationError naming the offending field. It has no
// side effects and never touches the pool.
func ValidateSubmit(req *models.SubmitRequest) (*models.QueueItem, error) {
	direction := models.Direction(req.Direction)
	if direction != models.DirectionWithdrawal && direction != models.DirectionDeposit {
		return nil, errors.NewValidation("direction", "must be withdrawal or deposit")
	}

	if req.AccountID == "" {
		return nil, errors.NewValidation("account_id", "is required")
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return nil, errors.NewValidation("account_id", "must be a valid UUID")
	}

	if req.Amount == "" {
		return nil, errors.NewValidation("amount", "is required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, errors.NewValidation("amount", "must be a decimal number")
	}
	if !amount.IsPositive() {
		return nil, errors.NewValidation("amount", "must be positive")
	}

	if req.PaymentMethod == "" {
		return nil, errors.NewValidation("payment_method", "is required")
	}

	if req.Priority < 0 {
		return nil, errors.NewValidation("priority", "must not be negative")
	}

	if req.Criteria != nil {
		tol := req.Criteria.AmountTolerance
		if tol.IsNegative() || tol.GreaterThan(decimal.NewFromInt(1)) {
			return nil, errors.NewValidation("criteria.amount_tolerance", "must be between 0 and 1")
		}
	}

	return &models.QueueItem{
		ID:             uuid.New(),
		Direction:      direction,
		AccountID:      accountID,
		Amount:         amount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
		Priority:       req.Priority,
		BasePriority:   req.Priority,
		Status:         models.ItemPending,
		Criteria:       req.Criteria,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
