package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown stops the application in dependency order: the controller first so
// nothing new is produced, then the venue streams, then the sinks.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.health.SetReady(false)

	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	err = a.kalshi.Close()
	if err != nil {
		a.logger.Error("kalshi-close-error", zap.Error(err))
	}

	err = a.poly.Close()
	if err != nil {
		a.logger.Error("polymarket-close-error", zap.Error(err))
	}

	a.detector.Close()
	a.controller.close()
	a.gate.Close()

	// Producers are stopped; drain the event queue, then the store.
	a.events.Close()

	err = a.store.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}
