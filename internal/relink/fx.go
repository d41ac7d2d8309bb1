package relink

import (
	"github.com/smallbiznis/spendledger/internal/relink/service"
	"go.uber.org/fx"
)

var Module = fx.Module("relink.service",
	fx.Provide(service.New),
)
