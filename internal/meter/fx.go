package meter

import (
	"github.com/utiliko/billing/internal/meter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meter.service",
	fx.Provide(service.NewService),
)
