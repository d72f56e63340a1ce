package benefit

import (
	"github.com/smallbiznis/entitled/internal/benefit/repository"
	"github.com/smallbiznis/entitled/internal/benefit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("benefit.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
