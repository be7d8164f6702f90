package http

import (
	"github.com/gin-gonic/gin"
	"github.com/servease/dispatch-service/internal/config"
	"github.com/servease/dispatch-service/internal/service"
	"go.uber.org/zap"
)

func NewRouter(reqSvc *service.RequestService, ledger *service.LedgerService, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, reqSvc, ledger)
	return r
}
