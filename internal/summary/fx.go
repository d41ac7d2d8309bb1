package summary

import (
	"github.com/smallbiznis/spendledger/internal/summary/service"
	"go.uber.org/fx"
)

var Module = fx.Module("summary.service",
	fx.Provide(service.New),
)
