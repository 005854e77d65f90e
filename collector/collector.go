// Package collector provides the runnable service: logging setup, the
// HTTP handler chain, listeners and graceful shutdown around the
// handlers.App that does the actual work.
package collector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logstash "github.com/bshuster-repo/logrus-logstash-hook"
	"github.com/bugsnag/bugsnag-go"
	metrics "github.com/docker/go-metrics"
	gorhandlers "github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/yvasiyarov/gorelic"

	"github.com/eventmosaic/gdelt/collector/handlers"
	"github.com/eventmosaic/gdelt/collector/listener"
	"github.com/eventmosaic/gdelt/configuration"
	"github.com/eventmosaic/gdelt/health"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/version"
)

// defaultDrainTimeout bounds how long shutdown waits for an in-flight
// ingestion round when http.draintimeout is not configured.
const defaultDrainTimeout = 60 * time.Second

// A Collector represents a complete instance of the collector service.
type Collector struct {
	config  *configuration.Configuration
	app     *handlers.App
	server  *http.Server
	ln      net.Listener
	debugLn net.Listener
}

// NewCollector creates a new collector from a context and configuration
// struct.
func NewCollector(ctx context.Context, config *configuration.Configuration) (*Collector, error) {
	ctx = dcontext.WithVersion(ctx, version.Version())

	ctx, err := configureLogging(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %v", err)
	}

	app, err := handlers.NewApp(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring application: %v", err)
	}

	// TODO: the global scope of the health checks means NewCollector can
	// only be called once per process.
	app.RegisterHealthChecks()

	handler := configureReporting(app)
	handler = alive("/", handler)
	handler = health.Handler(handler)
	handler = panicHandler(handler)
	if !config.Log.AccessLog.Disabled {
		handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)
	}
	if len(config.HTTP.Headers) > 0 {
		handler = headersHandler(config.HTTP.Headers, handler)
	}

	server := &http.Server{
		Handler: handler,
	}

	ln, err := listener.NewListener(config.HTTP.Net, config.HTTP.Addr)
	if err != nil {
		return nil, err
	}

	var debugLn net.Listener
	if config.HTTP.Debug.Addr != "" {
		debugLn, err = listener.NewListener("tcp", config.HTTP.Debug.Addr)
		if err != nil {
			return nil, fmt.Errorf("error listening on debug interface: %v", err)
		}
		logrus.Infof("debug server listening %v", config.HTTP.Debug.Addr)

		if config.HTTP.Debug.Prometheus.Enabled {
			path := config.HTTP.Debug.Prometheus.Path
			if path == "" {
				path = "/metrics"
			}
			logrus.Info("providing prometheus metrics on ", path)
			http.Handle(path, metrics.Handler())
		}
	}

	if config.HTTP.TLS.Certificate != "" {
		tlsConf := &tls.Config{
			ClientAuth:               tls.NoClientCert,
			NextProtos:               []string{"http/1.1"},
			Certificates:             make([]tls.Certificate, 1),
			MinVersion:               tls.VersionTLS12,
			PreferServerCipherSuites: true,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			},
		}

		tlsConf.Certificates[0], err = tls.LoadX509KeyPair(config.HTTP.TLS.Certificate, config.HTTP.TLS.Key)
		if err != nil {
			return nil, err
		}

		if len(config.HTTP.TLS.ClientCAs) != 0 {
			pool := x509.NewCertPool()

			for _, ca := range config.HTTP.TLS.ClientCAs {
				caPem, err := os.ReadFile(ca)
				if err != nil {
					return nil, err
				}

				if ok := pool.AppendCertsFromPEM(caPem); !ok {
					return nil, fmt.Errorf("could not add CA to pool")
				}
			}

			tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
			tlsConf.ClientCAs = pool
		}

		ln = tls.NewListener(ln, tlsConf)
		dcontext.GetLogger(app).Infof("listening on %v, tls", ln.Addr())
	} else {
		dcontext.GetLogger(app).Infof("listening on %v", ln.Addr())
	}

	return &Collector{
		app:     app,
		config:  config,
		server:  server,
		ln:      ln,
		debugLn: debugLn,
	}, nil
}

// Serve starts the scheduler loops and runs the collector's HTTP
// server(s), blocking until a listener fails or a termination signal
// arrives. On SIGTERM/SIGINT the schedulers are canceled, the in-flight
// ingestion round drains and the publish side shuts down cleanly.
func (collector *Collector) Serve() error {
	defer collector.ln.Close()

	collector.app.Start(collector.app.Context)

	errChan := make(chan error)

	if collector.debugLn != nil {
		defer collector.debugLn.Close()
		go func() {
			errChan <- http.Serve(collector.debugLn, nil)
		}()
	}

	go func() {
		errChan <- collector.server.Serve(collector.ln)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		dcontext.GetLogger(collector.app).Infof("received %v, shutting down", sig)
	}

	drainTimeout := collector.config.HTTP.DrainTimeout
	if drainTimeout == 0 {
		drainTimeout = defaultDrainTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := collector.server.Shutdown(ctx); err != nil {
		dcontext.GetLogger(collector.app).Errorf("error shutting down http server: %v", err)
	}

	if err := collector.app.Shutdown(ctx); err != nil {
		return err
	}

	dcontext.GetLogger(collector.app).Infof("shutdown complete")
	return nil
}

func configureReporting(app *handlers.App) http.Handler {
	var handler http.Handler = app

	if app.Config.Reporting.Bugsnag.APIKey != "" {
		bugsnagConfig := bugsnag.Configuration{
			APIKey:          app.Config.Reporting.Bugsnag.APIKey,
			AppVersion:      version.Version(),
			ProjectPackages: []string{"github.com/eventmosaic/gdelt"},
		}
		if app.Config.Reporting.Bugsnag.ReleaseStage != "" {
			bugsnagConfig.ReleaseStage = app.Config.Reporting.Bugsnag.ReleaseStage
		}
		if app.Config.Reporting.Bugsnag.Endpoint != "" {
			bugsnagConfig.Endpoint = app.Config.Reporting.Bugsnag.Endpoint
		}
		bugsnag.Configure(bugsnagConfig)

		handler = bugsnag.Handler(handler)
	}

	if app.Config.Reporting.NewRelic.LicenseKey != "" {
		agent := gorelic.NewAgent()
		agent.NewrelicLicense = app.Config.Reporting.NewRelic.LicenseKey
		if app.Config.Reporting.NewRelic.Name != "" {
			agent.NewrelicName = app.Config.Reporting.NewRelic.Name
		}
		agent.CollectHTTPStat = true
		agent.Verbose = app.Config.Reporting.NewRelic.Verbose
		// nolint:errcheck
		agent.Run()

		handler = agent.WrapHTTPHandler(handler)
	}

	return handler
}

// configureLogging prepares the context with a logger using the
// configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))

	formatter := config.Log.Formatter
	if formatter == "" {
		formatter = "text" // default formatter
	}

	switch formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "logstash":
		logrus.SetFormatter(&logstash.LogstashFormatter{
			Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", formatter)
	}

	logrus.Debugf("using %q logging formatter", formatter)

	// log the application version with messages
	fields := []interface{}{"version"}

	if len(config.Log.Fields) > 0 {
		// build up the static fields, if present.
		var customFields []interface{}
		for k := range config.Log.Fields {
			customFields = append(customFields, k)
		}

		ctx = dcontext.WithValues(ctx, config.Log.Fields)
		fields = append(fields, customFields...)
	}

	ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, fields...))
	dcontext.SetDefaultLogger(dcontext.GetLogger(ctx))
	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing level %q: %v, using %q	", level, err, l)
	}

	return l
}

// panicHandler add an HTTP handler to web app. The handler recovers the
// happening panic. logrus.Panic transmits panic message to pre-config log
// hooks, which is defined in config.yml.
func panicHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.Panic(fmt.Sprintf("%v", err))
			}
		}()
		handler.ServeHTTP(w, r)
	})
}

// alive simply wraps the handler with a route that always returns an http
// 200 response when the path is matched. If the path is not matched, the
// request is passed to the provided handler. There is no guarantee of
// anything but that the server is up. Wrap with other handlers (such as
// health.Handler) for greater affect.
func alive(path string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == path {
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			return
		}

		handler.ServeHTTP(w, r)
	})
}

// headersHandler applies the configured static response headers.
func headersHandler(headers http.Header, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header()[k] = v
		}
		handler.ServeHTTP(w, r)
	})
}
