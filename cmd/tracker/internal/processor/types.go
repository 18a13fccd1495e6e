package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

// Logger abstracts the logging library
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// TickHandler applies one trade tick
type TickHandler interface {
	HandleTradeTick(ctx context.Context, tick models.Tick) error
}
