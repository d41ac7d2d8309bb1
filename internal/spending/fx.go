package spending

import (
	"github.com/smallbiznis/spendledger/internal/spending/repository"
	"github.com/smallbiznis/spendledger/internal/spending/service"
	"go.uber.org/fx"
)

var Module = fx.Module("spending.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
