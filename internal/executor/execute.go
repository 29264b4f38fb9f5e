package executor

import (
	"context"

	riskerrors "github.com/ducminhle1904/risk-control-plane/internal/errors"
)

// ExecutionResult is the outcome of one Execute call
type ExecutionResult struct {
	Validation ValidationResult `json:"validation"`
	Order      *Order           `json:"order,omitempty"`
	Children   []Order          `json:"children,omitempty"`
}

// Execute runs the full pipeline for one signal: validate, size, create,
// reconcile the parent fill and monitor the protective children in the
// background. Monitors stop when ctx is done; Wait blocks until they return.
func (e *TradeExecutor) Execute(ctx context.Context, signal Signal, portfolio Portfolio) (ExecutionResult, error) {
	result := ExecutionResult{Validation: e.Validate(ctx, signal, portfolio)}
	if !result.Validation.Valid {
		return result, nil
	}

	quantity := signal.Quantity
	if quantity <= 0 {
		quantity = e.SizeQuantity(signal, portfolio)
	}
	if quantity <= 0 {
		result.Validation = reject(CodeZeroSize, "position sizing for %s is zero", signal.Symbol)
		e.recorder.ValidationRejected(CodeZeroSize)
		return result, nil
	}

	order, err := e.CreateOrder(ctx, signal, quantity)
	if err != nil {
		e.log.Error("order for %s not created: %v", signal.Symbol, err)
		return result, err
	}
	if order == nil {
		return result, riskerrors.New(riskerrors.CategoryConnectivity, component, "execute", "no order created")
	}
	result.Order = order

	e.ApplyFill(*order)

	result.Children = e.Children(order.ID)
	for _, child := range result.Children {
		e.wg.Add(1)
		go func(id string) {
			defer e.wg.Done()
			status, err := e.MonitorOrder(ctx, id)
			if err != nil {
				e.log.Warning("monitor for order %s ended in %s: %v", id, status, err)
			}
		}(child.ID)
	}
	return result, nil
}
