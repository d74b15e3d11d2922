package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"
)

// HandlerFunc processes one message body. Returning an error NACKs the
// message, which routes it to the dead-letter queue.
type HandlerFunc func(ctx context.Context, body []byte) error

type StockDeducter interface {
	DeductOnce(ctx context.Context, requestID, groupID string, amount int) (stock.Result, error)
}

type StockResetter interface {
	ResetDaily(ctx context.Context, groupID string) error
	ResetAll(ctx context.Context) (int, error)
}

// MenuOrderedHandler deducts the ordered servings. The envelope eventId (or
// the orderId for legacy messages) makes redelivery a no-op. Business
// rejections are acknowledged; redelivering them cannot succeed.
func MenuOrderedHandler(svc StockDeducter, logger *zap.Logger, consumeEnveloped bool) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var msg MenuOrdered
		env, err := decodeMessage(body, EventTypeMenuOrdered, consumeEnveloped, &msg)
		if err != nil {
			return err
		}
		if msg.OrderID == "" {
			return fmt.Errorf("missing orderId")
		}
		if msg.GroupID == "" {
			return fmt.Errorf("missing groupId")
		}

		requestID := "order:" + msg.OrderID
		meta := EventMeta{CorrelationID: uuid.NewString()}
		if env != nil {
			requestID = env.EventID
			meta.CausationID = env.EventID
			if env.CorrelationID != "" {
				meta.CorrelationID = env.CorrelationID
			}
		}
		ctx = WithEventMeta(ctx, meta)

		fields := []zap.Field{
			zap.String("order_id", msg.OrderID),
			zap.String("group_id", msg.GroupID),
			zap.Int("quantity", msg.Quantity),
			zap.String("request_id", requestID),
		}

		res, err := svc.DeductOnce(ctx, requestID, msg.GroupID, msg.Quantity)
		switch {
		case err == nil:
			logger.Info("stock deducted", append(fields, zap.Int("stock", res.Stock))...)
			return nil
		case errors.Is(err, stock.ErrDuplicateRequest):
			logger.Info("skip duplicate menu order", fields...)
			return nil
		case errors.Is(err, stock.ErrInsufficientStock),
			errors.Is(err, stock.ErrGroupNotFound),
			errors.Is(err, stock.ErrInvalidValue):
			logger.Warn("menu order rejected", append(fields, zap.Error(err))...)
			return nil
		default:
			return fmt.Errorf("deduct for order %s: %w", msg.OrderID, err)
		}
	}
}

// DailyResetHandler refills one group, or every group when the command names none.
func DailyResetHandler(svc StockResetter, logger *zap.Logger, consumeEnveloped bool) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var cmd DailyReset
		if _, err := decodeMessage(body, EventTypeDailyReset, consumeEnveloped, &cmd); err != nil {
			return err
		}

		if cmd.GroupID != "" {
			err := svc.ResetDaily(ctx, cmd.GroupID)
			if errors.Is(err, stock.ErrGroupNotFound) {
				logger.Warn("daily reset for unknown group", zap.String("group_id", cmd.GroupID))
				return nil
			}
			if err != nil {
				return fmt.Errorf("reset group %s: %w", cmd.GroupID, err)
			}
			logger.Info("daily reset", zap.String("group_id", cmd.GroupID))
			return nil
		}

		n, err := svc.ResetAll(ctx)
		if err != nil {
			return fmt.Errorf("reset all groups (%d done): %w", n, err)
		}
		logger.Info("daily reset", zap.Int("groups", n), zap.String("operating_day", cmd.OperatingDay))
		return nil
	}
}
