package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"nftmarket/pkg/admin"
	"nftmarket/pkg/assets"
	"nftmarket/pkg/config"
	"nftmarket/pkg/market"
	"nftmarket/pkg/notify"
	"nftmarket/pkg/users"
)

func newRouter(a *application) *gin.Engine {
	if a.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: a.cfg.CORSAllowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	users.NewUserHandler(a.users).RegisterRoutes(router)
	assets.NewAssetHandler(a.assets, a.cfg.MaxContentBytes).RegisterRoutes(router)
	market.NewMarketHandler(a.market).RegisterRoutes(router)
	notify.NewHandler(a.events).RegisterRoutes(router)
	admin.NewAdminHandler(a.admin, a.cfg.AdminTokenHash).RegisterRoutes(router)

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return router
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.reconciler.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv, cfg)
	}()
	log.WithFields(log.Fields{"port": cfg.Port, "tls": cfg.EnableTLS}).Info("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server exiting")
	return nil
}

func listen(srv *http.Server, cfg *config.Config) error {
	var err error
	if !cfg.EnableTLS {
		err = srv.ListenAndServe()
	} else {
		tlsConfig, certFile, keyFile, tlsErr := buildTLSConfig(cfg)
		if tlsErr != nil {
			return tlsErr
		}
		srv.TLSConfig = tlsConfig
		err = srv.ListenAndServeTLS(certFile, keyFile)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
