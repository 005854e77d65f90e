// Package handlers assembles a running collector: the redis pool, the
// tracking stores, object storage, the kafka publisher, the notification
// bus and the two scheduler loops, plus the REST surface that lets an
// operator trigger an ingestion round by hand.
package handlers

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/gorilla/mux"

	"github.com/eventmosaic/gdelt/bus"
	"github.com/eventmosaic/gdelt/bus/kafka"
	"github.com/eventmosaic/gdelt/configuration"
	"github.com/eventmosaic/gdelt/fileops"
	"github.com/eventmosaic/gdelt/health"
	"github.com/eventmosaic/gdelt/health/checks"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/manifest"
	"github.com/eventmosaic/gdelt/notifications"
	"github.com/eventmosaic/gdelt/process"
	"github.com/eventmosaic/gdelt/storage"
	"github.com/eventmosaic/gdelt/storage/inmemory"
	s3store "github.com/eventmosaic/gdelt/storage/s3"
	"github.com/eventmosaic/gdelt/tracking"
	trackingredis "github.com/eventmosaic/gdelt/tracking/redis"
)

const defaultCheckInterval = 10 * time.Second

// App is a global collector application object. Shared resources can be
// placed on this object that will be accessible from all requests. Any
// writable fields should be protected.
type App struct {
	context.Context

	Config *configuration.Configuration

	router *mux.Router
	redis  *redis.Pool

	hashes    tracking.HashStore
	status    tracking.StatusStore
	objects   storage.ObjectStore
	manifest  *manifest.Client
	resolver  *bus.TopicResolver
	publisher bus.Publisher
	listener  *notifications.Listener
	eventBus  *notifications.EventBus

	coordinator    *process.Coordinator
	checkScheduler *process.CheckScheduler
	retryScheduler *process.RetryScheduler

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// NewApp takes a configuration and returns a configured app, ready to serve
// requests and run the ingestion loops. The app only implements ServeHTTP
// and can be wrapped in other handlers accordingly. Every wiring failure
// here is fatal for the process; a collector must not come up half-built.
func NewApp(ctx context.Context, config *configuration.Configuration) (*App, error) {
	app := &App{
		Context: ctx,
		Config:  config,
	}

	if err := app.configureRedis(config); err != nil {
		return nil, err
	}
	app.hashes = trackingredis.NewHashStore(app.redis, config.Redis.HashTTL)
	app.status = trackingredis.NewStatusStore(app.redis, config.Redis.StatusTTL)

	if err := app.configureStorage(ctx, config); err != nil {
		return nil, err
	}

	if _, err := fileops.EnsureDir(config.Feed.DownloadDir); err != nil {
		return nil, fmt.Errorf("creating download directory: %v", err)
	}

	app.manifest = manifest.NewClient(config.Feed.Manifest, manifest.ClientOptions{
		Timeout:      config.Feed.Timeout,
		RetryWaitMin: config.Feed.Retry.Period,
		RetryWaitMax: config.Feed.Retry.MaxPeriod,
		RetryMax:     config.Feed.Retry.MaxAttempts,
	})

	app.resolver = bus.NewTopicResolver(config.Bus.Topics.Event, config.Bus.Topics.Mention)

	if len(config.Bus.Brokers) == 0 {
		return nil, fmt.Errorf("no bus brokers configured")
	}

	// The publisher's delivery callbacks close over the listener field,
	// which is assigned below. Nothing flows through the producer until the
	// listener starts sending, so the field is always set by then.
	publisher, err := kafka.NewPublisher(ctx, config.Bus.Brokers,
		func(url string) { app.listener.Ack(url) },
		func(url string, err error) { app.listener.Nack(url, err) },
	)
	if err != nil {
		return nil, err
	}
	app.publisher = publisher

	app.listener = notifications.NewListener(ctx, app.resolver, app.status, app.publisher)
	app.eventBus = notifications.NewEventBus(app.listener, config.Bus.Queue.Size)

	processor := process.NewProcessor(app.manifest.HTTPClient(), app.objects, app.hashes, app.eventBus, config.Feed.DownloadDir)
	app.coordinator = process.NewCoordinator(app.manifest, app.hashes, processor)
	app.checkScheduler = process.NewCheckScheduler(app.coordinator, config.Feed.CheckInterval)
	app.retryScheduler = process.NewRetryScheduler(app.status, app.resolver, app.publisher, config.Feed.RetryInterval)

	app.configureRouter()

	return app, nil
}

// Start launches the manifest polling loop and the send-status retry loop.
func (app *App) Start(ctx context.Context) {
	ctx, app.cancel = context.WithCancel(ctx)

	app.loops.Add(2)
	go func() {
		defer app.loops.Done()
		app.checkScheduler.Run(ctx)
	}()
	go func() {
		defer app.loops.Done()
		app.retryScheduler.Run(ctx)
	}()
}

// RunOnce performs a single ingestion round and shuts the publish side
// down afterwards, draining queued sends. Used by the `once` subcommand.
func (app *App) RunOnce(ctx context.Context) error {
	tickErr := app.coordinator.Tick(ctx)

	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Shutdown(sctx); err != nil && tickErr == nil {
		return err
	}
	return tickErr
}

// Shutdown stops the scheduler loops and waits for the in-flight tick to
// drain, bounded by ctx. The event bus is closed only after the loops stop
// so a draining tick can still emit, then the publisher and the pool go.
func (app *App) Shutdown(ctx context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}

	done := make(chan struct{})
	go func() {
		app.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("draining in-flight archives: %v", ctx.Err())
	}

	var errs []error
	if app.eventBus != nil {
		if err := app.eventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event bus: %v", err))
		}
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing publisher: %v", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis pool: %v", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// RegisterHealthChecks is an awful hack to defer health check registration
// control to callers. This should only ever be called once per registry. If
// no health registries are provided, the default system registry is used.
func (app *App) RegisterHealthChecks(healthRegistries ...*health.Registry) {
	if len(healthRegistries) > 1 {
		panic("RegisterHealthChecks called with more than one registry")
	}
	healthRegistry := health.DefaultRegistry
	if len(healthRegistries) == 1 {
		healthRegistry = healthRegistries[0]
	}

	healthRegistry.RegisterPeriodicFunc("redis", defaultCheckInterval, func(context.Context) error {
		conn := app.redis.Get()
		defer conn.Close()

		_, err := conn.Do("PING")
		return err
	})

	manifestChecker := checks.HTTPChecker(app.Config.Feed.Manifest, http.StatusOK, app.Config.Feed.Timeout, nil)
	healthRegistry.Register("feed", health.PeriodicThresholdChecker(manifestChecker, defaultCheckInterval, 3))

	for _, fileChecker := range app.Config.Health.FileCheckers {
		interval := fileChecker.Interval
		if interval == 0 {
			interval = defaultCheckInterval
		}
		dcontext.GetLogger(app).Infof("configuring file health check path=%s, interval=%d", fileChecker.File, interval/time.Second)
		healthRegistry.Register(fileChecker.File, health.PeriodicChecker(checks.FileChecker(fileChecker.File), interval))
	}

	for _, httpChecker := range app.Config.Health.HTTPCheckers {
		interval := httpChecker.Interval
		if interval == 0 {
			interval = defaultCheckInterval
		}

		statusCode := httpChecker.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		checker := checks.HTTPChecker(httpChecker.URI, statusCode, httpChecker.Timeout, httpChecker.Headers)

		if httpChecker.Threshold != 0 {
			dcontext.GetLogger(app).Infof("configuring HTTP health check uri=%s, interval=%d, threshold=%d", httpChecker.URI, interval/time.Second, httpChecker.Threshold)
			healthRegistry.Register(httpChecker.URI, health.PeriodicThresholdChecker(checker, interval, httpChecker.Threshold))
		} else {
			dcontext.GetLogger(app).Infof("configuring HTTP health check uri=%s, interval=%d", httpChecker.URI, interval/time.Second)
			healthRegistry.Register(httpChecker.URI, health.PeriodicChecker(checker, interval))
		}
	}

	for _, tcpChecker := range app.Config.Health.TCPCheckers {
		interval := tcpChecker.Interval
		if interval == 0 {
			interval = defaultCheckInterval
		}

		checker := checks.TCPChecker(tcpChecker.Addr, tcpChecker.Timeout)

		if tcpChecker.Threshold != 0 {
			dcontext.GetLogger(app).Infof("configuring TCP health check addr=%s, interval=%d, threshold=%d", tcpChecker.Addr, interval/time.Second, tcpChecker.Threshold)
			healthRegistry.Register(tcpChecker.Addr, health.PeriodicThresholdChecker(checker, interval, tcpChecker.Threshold))
		} else {
			dcontext.GetLogger(app).Infof("configuring TCP health check addr=%s, interval=%d", tcpChecker.Addr, interval/time.Second)
			healthRegistry.Register(tcpChecker.Addr, health.PeriodicChecker(checker, interval))
		}
	}
}

// configureRedis builds the connection pool and probes it once. A collector
// without its tracking stores cannot uphold exactly-once processing, so a
// dead redis fails construction.
func (app *App) configureRedis(config *configuration.Configuration) error {
	if config.Redis.Addr == "" {
		return fmt.Errorf("no redis address configured")
	}

	app.redis = &redis.Pool{
		Dial: func() (redis.Conn, error) {
			started := time.Now()

			conn, err := redis.Dial("tcp",
				config.Redis.Addr,
				redis.DialConnectTimeout(config.Redis.DialTimeout),
				redis.DialReadTimeout(config.Redis.ReadTimeout),
				redis.DialWriteTimeout(config.Redis.WriteTimeout))
			if err != nil {
				dcontext.GetLogger(app).Errorf("error connecting to redis instance %s: %v",
					config.Redis.Addr, err)
				return nil, err
			}

			// authorize the connection
			if config.Redis.Password != "" {
				if config.Redis.Username != "" {
					if _, err = conn.Do("AUTH", config.Redis.Username, config.Redis.Password); err != nil {
						defer conn.Close()
						return nil, err
					}
				} else if _, err = conn.Do("AUTH", config.Redis.Password); err != nil {
					defer conn.Close()
					return nil, err
				}
			}

			// select the database to use
			if config.Redis.DB != 0 {
				if _, err = conn.Do("SELECT", config.Redis.DB); err != nil {
					defer conn.Close()
					return nil, err
				}
			}

			dcontext.GetLoggerWithField(app, "redis.connect.duration", time.Since(started)).
				Infof("redis: connect %v", config.Redis.Addr)
			return conn, nil
		},
		MaxIdle:     config.Redis.Pool.MaxIdle,
		MaxActive:   config.Redis.Pool.MaxActive,
		IdleTimeout: config.Redis.Pool.IdleTimeout,
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
		Wait: false, // if a connection is not available, fail over to the caller.
	}

	// liveness probe: take one connection through PING before accepting work
	conn := app.redis.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return fmt.Errorf("redis instance %s not reachable: %v", config.Redis.Addr, err)
	}

	// setup expvar
	registry := expvar.Get("collector")
	if registry == nil {
		registry = expvar.NewMap("collector")
	}
	registry.(*expvar.Map).Set("redis", expvar.Func(func() interface{} {
		return map[string]interface{}{
			"Config": config.Redis.Addr,
			"Active": app.redis.ActiveCount(),
		}
	}))

	return nil
}

// configureStorage builds the object store named by the storage section.
func (app *App) configureStorage(ctx context.Context, config *configuration.Configuration) error {
	params := config.Storage.Parameters()

	switch storageType := config.Storage.Type(); storageType {
	case "s3":
		store, err := s3store.New(ctx, s3store.Parameters{
			Endpoint:  stringParam(params, "endpoint"),
			Bucket:    stringParam(params, "bucket"),
			AccessKey: stringParam(params, "accesskey"),
			SecretKey: stringParam(params, "secretkey"),
			Region:    stringParam(params, "region"),
			Secure:    boolParam(params, "secure"),
		})
		if err != nil {
			return err
		}
		app.objects = store
	case "inmemory":
		endpoint := stringParam(params, "endpoint")
		if endpoint == "" {
			endpoint = "mem://localhost"
		}
		bucket := stringParam(params, "bucket")
		if bucket == "" {
			bucket = "gdelt"
		}
		app.objects = inmemory.New(endpoint, bucket)
	default:
		return fmt.Errorf("unknown storage type %q", storageType)
	}

	return nil
}

func (app *App) configureRouter() {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/gdelt/process", app.triggerHandler).Methods(http.MethodPost)
	app.router = router
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close() // ensure that request body is always closed.

	app.router.ServeHTTP(w, r)
}

// triggerHandler starts one ingestion round off-request. The scheduler owns
// the cadence; this is the operator's override. The response never waits on
// the tick, failures land in the log like any scheduled round.
func (app *App) triggerHandler(w http.ResponseWriter, r *http.Request) {
	ctx := dcontext.WithRequest(app.Context, r)
	dcontext.GetRequestLogger(ctx).Infof("ingestion round requested")

	tickCtx := dcontext.DetachedContext(ctx)
	go func() {
		if err := app.coordinator.Tick(tickCtx); err != nil {
			dcontext.GetLogger(tickCtx).Errorf("requested ingestion round: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, `{"status":"accepted"}`)
}

func stringParam(params configuration.Parameters, key string) string {
	if v, ok := params[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func boolParam(params configuration.Parameters, key string) bool {
	v, ok := params[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
