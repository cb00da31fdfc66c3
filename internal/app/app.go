package app

import (
	"context"
	"sync"

	"github.com/crossvenue/kalshi-poly-arb/internal/bookcache"
	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/eventlog"
	"github.com/crossvenue/kalshi-poly-arb/internal/executor"
	"github.com/crossvenue/kalshi-poly-arb/internal/matcher"
	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/crossvenue/kalshi-poly-arb/pkg/healthprobe"
	"github.com/crossvenue/kalshi-poly-arb/pkg/httpserver"
	"go.uber.org/zap"
)

// App wires the two venue clients, the detection pipeline and the trading
// controller together and owns their lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	health     *healthprobe.Checker
	httpServer *httpserver.Server
	kalshi     venue.Client
	poly       venue.Client
	books      *bookcache.Cache
	matcher    *matcher.Matcher
	detector   *detector.Detector
	gate       *risk.Gate
	executor   *executor.Executor
	store      storage.Store
	events     *eventlog.Log
	controller *controller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}
