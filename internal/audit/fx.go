package audit

import (
	"context"

	"github.com/smallbiznis/spendledger/internal/audit/domain"
	"github.com/smallbiznis/spendledger/internal/audit/repository"
	"github.com/smallbiznis/spendledger/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewAsyncSink),
	fx.Provide(func(s *service.AsyncSink) domain.Sink { return s }),
	fx.Invoke(func(lc fx.Lifecycle, s *service.AsyncSink) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: s.Close,
		})
	}),
)
