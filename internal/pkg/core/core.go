package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/unbasical/webship/configs"
	"github.com/unbasical/webship/internal/pkg/api"
	"github.com/unbasical/webship/internal/pkg/core/deployengine"
	"github.com/unbasical/webship/internal/pkg/environments"
	"github.com/unbasical/webship/internal/pkg/snapshot"
)

// Webship is the deployment server.
type Webship struct {
	engine       *gin.Engine
	deployEngine deployengine.Engine
	srv          *http.Server
	hostname     string
	port         uint16
}

// New returns an instance of a Webship server.
func New(config configs.ServerConfig) *Webship {
	w := Webship{}
	return w.init(config)
}

// init resolves the configured environments and wires the HTTP app.
func (w *Webship) init(config configs.ServerConfig) *Webship {
	targets, err := environments.ResolveAll(context.Background(), config.ConfigFile.Environments)
	if err != nil {
		log.WithError(err).Fatal("failed to resolve environments")
	}
	if len(targets) == 0 {
		log.Fatal("no environments configured")
	}

	// An anonymous credential function; registries requiring auth get their
	// credentials from the client's docker config via the CLI instead.
	var creds auth.CredentialFunc
	publisher, err := snapshot.NewPublisher(
		config.ConfigFile.Snapshots.Repository,
		creds,
		config.ConfigFile.Snapshots.EnableHTTP,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to set up snapshot repository")
	}

	leaseDir := config.ConfigFile.LeaseDirectory
	if leaseDir == "" {
		leaseDir = "webship-leases"
	}
	w.deployEngine = deployengine.NewEngine(targets, publisher, config.ConfigFile.APIToken, leaseDir)
	w.hostname = config.CliOpts.Host
	w.port = config.CliOpts.HTTPPort

	if strings.ToLower(config.CliOpts.LogLevel) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	w.engine = api.BuildApp(w.deployEngine)
	if err := w.engine.SetTrustedProxies(config.ConfigFile.TrustedProxies); err != nil {
		log.WithError(err).Fatal("failed to set trusted proxies")
	}
	return w
}

// Start the Webship server.
func (w *Webship) Start() {
	log.Info("Starting webship server")
	serverURL := fmt.Sprintf("%s:%d", w.hostname, w.port)
	w.srv = &http.Server{
		Addr:    serverURL,
		Handler: w.engine,
	}
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()
	log.Infof("Listening on %s", w.srv.Addr)
}

// Stop the Webship server after draining in-flight deployments.
func (w *Webship) Stop(ctx context.Context) error {
	w.deployEngine.Stop(ctx)
	return w.srv.Shutdown(ctx)
}
