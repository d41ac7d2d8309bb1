package snapshot

import (
	"github.com/smallbiznis/spendledger/internal/snapshot/repository"
	"github.com/smallbiznis/spendledger/internal/snapshot/service"
	"github.com/smallbiznis/spendledger/internal/snapshot/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("snapshot.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(worker.DefaultConfig),
	fx.Provide(worker.NewWorker),
)
