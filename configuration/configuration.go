package configuration

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"
)

// Configuration is a versioned collector configuration, intended to be
// provided by a yaml file, and optionally modified by environment variables.
//
// Note that yaml field names should never include _ characters, since this
// presents a problem with the way we do environment variable substitution.
type Configuration struct {
	// Version is the version which defines the format of the rest of the
	// configuration.
	Version Version `yaml:"version"`

	// Log supports setting various parameters related to the logging
	// subsystem.
	Log struct {
		// AccessLog configures access logging.
		AccessLog struct {
			// Disabled disables access logging.
			Disabled bool `yaml:"disabled,omitempty"`
		} `yaml:"accesslog,omitempty"`

		// Level is the granularity at which collector operations are logged.
		Level Loglevel `yaml:"level,omitempty"`

		// Formatter overrides the default formatter with another. Options
		// include "text", "json" and "logstash".
		Formatter string `yaml:"formatter,omitempty"`

		// Fields allows users to specify static string fields to include in
		// the logger context.
		Fields map[string]interface{} `yaml:"fields,omitempty"`
	} `yaml:"log"`

	// Loglevel is the level at which the collector operates.
	//
	// Deprecated: Use Log.Level instead.
	Loglevel Loglevel `yaml:"loglevel,omitempty"`

	// Feed configures the upstream GDELT endpoint and the ingestion cadence.
	Feed Feed `yaml:"feed"`

	// Storage is the configuration for the object storage driver holding
	// extracted archive members.
	Storage Storage `yaml:"storage"`

	// Redis configures the connection pool and record TTLs for the archive
	// hash store and the file send-status store.
	Redis Redis `yaml:"redis"`

	// Bus configures the message bus that announced object URLs are
	// published to.
	Bus Bus `yaml:"bus"`

	// Reporting is the configuration for error reporting.
	Reporting Reporting `yaml:"reporting,omitempty"`

	// HTTP contains configuration parameters for the collector's http
	// interface.
	HTTP struct {
		// Addr specifies the bind address for the collector instance.
		Addr string `yaml:"addr,omitempty"`

		// Net specifies the net portion of the bind address. A default
		// empty value means tcp.
		Net string `yaml:"net,omitempty"`

		// Host specifies an externally-reachable address for the collector,
		// as a fully qualified URL.
		Host string `yaml:"host,omitempty"`

		// DrainTimeout is the maximum amount of time to wait for in-flight
		// archives to finish after a shutdown signal.
		DrainTimeout time.Duration `yaml:"draintimeout,omitempty"`

		// TLS instructs the http server to listen with a TLS configuration.
		TLS struct {
			// Certificate specifies the path to an x509 certificate file to
			// be used with TLS.
			Certificate string `yaml:"certificate,omitempty"`

			// Key specifies the path to the x509 key file, which should
			// contain the private portion for the file specified in
			// Certificate.
			Key string `yaml:"key,omitempty"`

			// Specifies the CA certs for client authentication
			// A file may contain multiple CA certificates encoded as PEM
			ClientCAs []string `yaml:"clientcas,omitempty"`
		} `yaml:"tls,omitempty"`

		// Headers is a set of headers to include in HTTP responses. A common
		// use case for this would be security headers such as
		// Strict-Transport-Security.
		Headers http.Header `yaml:"headers,omitempty"`

		// Debug configures the http debug interface, if specified. This can
		// include services such as pprof, expvar and other data that should
		// not be exposed externally. Left disabled by default.
		Debug struct {
			// Addr specifies the bind address for the debug server.
			Addr string `yaml:"addr,omitempty"`
			// Prometheus configures the Prometheus telemetry endpoint.
			Prometheus struct {
				Enabled bool   `yaml:"enabled,omitempty"`
				Path    string `yaml:"path,omitempty"`
			} `yaml:"prometheus,omitempty"`
		} `yaml:"debug,omitempty"`
	} `yaml:"http,omitempty"`

	// Health provides the configuration section for health checks.
	Health Health `yaml:"health,omitempty"`
}

// Feed configures the manifest endpoint, the scratch area for downloads and
// the two scheduler intervals.
type Feed struct {
	// Manifest is the absolute URL of the feed manifest listing the latest
	// translation archives.
	Manifest string `yaml:"manifest,omitempty"`

	// DownloadDir is the scratch directory archives are downloaded to and
	// extracted under. Created at startup when missing.
	DownloadDir string `yaml:"downloaddir,omitempty"`

	// CheckInterval is the period between manifest polls.
	CheckInterval time.Duration `yaml:"checkinterval,omitempty"`

	// RetryInterval is the period between send-status retry sweeps.
	RetryInterval time.Duration `yaml:"retryinterval,omitempty"`

	// Timeout bounds every manifest and archive request, connect and read
	// included.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Retry shapes the transport-level retry policy for feed requests.
	Retry struct {
		// Period is the minimum wait between attempts.
		Period time.Duration `yaml:"period,omitempty"`

		// MaxPeriod caps the wait between attempts.
		MaxPeriod time.Duration `yaml:"maxperiod,omitempty"`

		// MaxAttempts is the number of tries before the transport gives up.
		MaxAttempts int `yaml:"maxattempts,omitempty"`
	} `yaml:"retry,omitempty"`
}

// Redis configures the redis pool available to the collector.
type Redis struct {
	// Addr specifies the redis instance available to the application.
	Addr string `yaml:"addr,omitempty"`

	// Usernames can be used as a finer-grained permission control since the
	// introduction of ACLs in redis 6.0.
	Username string `yaml:"username,omitempty"`

	// Password string to use when making a connection.
	Password string `yaml:"password,omitempty"`

	// DB specifies the database to connect to on the redis instance.
	DB int `yaml:"db,omitempty"`

	// DialTimeout is the timeout for connecting to redis.
	DialTimeout time.Duration `yaml:"dialtimeout,omitempty"`

	// ReadTimeout is the timeout for reading from redis.
	ReadTimeout time.Duration `yaml:"readtimeout,omitempty"`

	// WriteTimeout is the timeout for writing to redis.
	WriteTimeout time.Duration `yaml:"writetimeout,omitempty"`

	// Pool configures the behavior of the redis connection pool.
	Pool struct {
		// MaxIdle sets the maximum number of connections that will be kept
		// idle in the pool.
		MaxIdle int `yaml:"maxidle,omitempty"`

		// MaxActive sets the maximum number of connections that should be
		// opened before blocking a connection request.
		MaxActive int `yaml:"maxactive,omitempty"`

		// IdleTimeout sets the amount time to wait before closing inactive
		// connections.
		IdleTimeout time.Duration `yaml:"idletimeout,omitempty"`
	} `yaml:"pool,omitempty"`

	// HashTTL is the expiry on archive hash records. It bounds how long a
	// processed archive is remembered; the feed republishes well inside it.
	HashTTL time.Duration `yaml:"hashttl,omitempty"`

	// StatusTTL is the expiry on file send-status records. It caps the
	// retry window for unacknowledged publishes.
	StatusTTL time.Duration `yaml:"statusttl,omitempty"`
}

// Bus configures the downstream message bus.
type Bus struct {
	// Brokers lists the bootstrap broker addresses.
	Brokers []string `yaml:"brokers,omitempty"`

	// Topics names the destination topic per archive series.
	Topics struct {
		// Event receives URLs extracted from translation.export archives.
		Event string `yaml:"event,omitempty"`

		// Mention receives URLs extracted from translation.mentions
		// archives.
		Mention string `yaml:"mention,omitempty"`
	} `yaml:"topics,omitempty"`

	// Queue bounds the in-process event queue feeding the bus listener.
	Queue struct {
		// Size is the number of events held before new writes are dropped
		// and logged.
		Size int `yaml:"size,omitempty"`
	} `yaml:"queue,omitempty"`
}

// v0_1Configuration is a Version 0.1 Configuration struct
// This is currently aliased to Configuration, as it is the current version
type v0_1Configuration Configuration

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a string of the form X.Y into a Version, validating that X and Y can represent uints
func (version *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var versionString string
	err := unmarshal(&versionString)
	if err != nil {
		return err
	}

	newVersion := Version(versionString)
	if _, err := newVersion.major(); err != nil {
		return err
	}

	if _, err := newVersion.minor(); err != nil {
		return err
	}

	*version = newVersion
	return nil
}

// CurrentVersion is the most recent Version that can be parsed
var CurrentVersion = MajorMinorVersion(0, 1)

// Loglevel is the level at which operations are logged
// This can be error, warn, info, or debug
type Loglevel string

// UnmarshalYAML implements the yaml.Umarshaler interface
// Unmarshals a string into a Loglevel, lowercasing the string and validating that it represents a
// valid loglevel
func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var loglevelString string
	err := unmarshal(&loglevelString)
	if err != nil {
		return err
	}

	loglevelString = strings.ToLower(loglevelString)
	switch loglevelString {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s Must be one of [error, warn, info, debug]", loglevelString)
	}

	*loglevel = Loglevel(loglevelString)
	return nil
}

// Parameters defines a key-value parameters mapping
type Parameters map[string]interface{}

// Storage defines the configuration for object storage
type Storage map[string]Parameters

// Type returns the storage driver type, such as inmemory or s3
func (storage Storage) Type() string {
	var storageType []string

	// Return only key in this map
	for k := range storage {
		storageType = append(storageType, k)
	}
	if len(storageType) > 1 {
		panic("multiple storage drivers specified in configuration or environment: " + strings.Join(storageType, ", "))
	}
	if len(storageType) == 1 {
		return storageType[0]
	}
	return ""
}

// Parameters returns the Parameters map for a Storage configuration
func (storage Storage) Parameters() Parameters {
	return storage[storage.Type()]
}

// setParameter changes the parameter at the provided key to the new value
func (storage Storage) setParameter(key string, value interface{}) {
	storage[storage.Type()][key] = value
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a single item map into a Storage or a string into a Storage type with no parameters
func (storage *Storage) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var storageMap map[string]Parameters
	err := unmarshal(&storageMap)
	if err == nil {
		if len(storageMap) > 1 {
			types := make([]string, 0, len(storageMap))
			for k := range storageMap {
				types = append(types, k)
			}

			return fmt.Errorf("must provide exactly one storage type. Provided: %v", types)
		}
		*storage = storageMap
		return nil
	}

	var storageType string
	err = unmarshal(&storageType)
	if err == nil {
		*storage = Storage{storageType: Parameters{}}
		return nil
	}

	return err
}

// MarshalYAML implements the yaml.Marshaler interface
func (storage Storage) MarshalYAML() (interface{}, error) {
	if storage.Parameters() == nil {
		return storage.Type(), nil
	}
	return map[string]Parameters(storage), nil
}

// Reporting defines error reporting methods.
type Reporting struct {
	// Bugsnag configures error reporting for Bugsnag (bugsnag.com).
	Bugsnag BugsnagReporting `yaml:"bugsnag,omitempty"`

	// NewRelic configures error reporting for NewRelic (newrelic.com)
	NewRelic NewRelicReporting `yaml:"newrelic,omitempty"`
}

// BugsnagReporting configures error reporting for Bugsnag (bugsnag.com).
type BugsnagReporting struct {
	// APIKey is the Bugsnag api key.
	APIKey string `yaml:"apikey,omitempty"`

	// ReleaseStage tracks where the collector is deployed.
	// Examples: production, staging, development
	ReleaseStage string `yaml:"releasestage,omitempty"`

	// Endpoint is used for specifying an enterprise Bugsnag endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// NewRelicReporting configures error reporting for NewRelic (newrelic.com)
type NewRelicReporting struct {
	// LicenseKey is the NewRelic user license key
	LicenseKey string `yaml:"licensekey,omitempty"`

	// Name is the component name of the collector in NewRelic
	Name string `yaml:"name,omitempty"`

	// Verbose configures debug output to STDOUT
	Verbose bool `yaml:"verbose,omitempty"`
}

// Health provides the configuration section for health checks.
type Health struct {
	// FileCheckers is a list of paths to check
	FileCheckers []FileChecker `yaml:"file,omitempty"`

	// HTTPCheckers is a list of URIs to check
	HTTPCheckers []HTTPChecker `yaml:"http,omitempty"`

	// TCPCheckers is a list of URIs to check
	TCPCheckers []TCPChecker `yaml:"tcp,omitempty"`
}

// FileChecker is a type of entry in the health section for checking files.
type FileChecker struct {
	// Interval is the duration in between checks
	Interval time.Duration `yaml:"interval,omitempty"`

	// File is the path to check
	File string `yaml:"file,omitempty"`

	// Threshold is the number of times a check must fail to trigger an
	// unhealthy state
	Threshold int `yaml:"threshold,omitempty"`
}

// HTTPChecker is a type of entry in the health section for checking HTTP
// URIs.
type HTTPChecker struct {
	// Timeout is the duration to wait before timing out the HTTP request
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// StatusCode is the expected status code
	StatusCode int `yaml:"statuscode,omitempty"`

	// Interval is the duration in between checks
	Interval time.Duration `yaml:"interval,omitempty"`

	// URI is the HTTP URI to check
	URI string `yaml:"uri,omitempty"`

	// Headers lists static headers that should be added to all requests
	Headers http.Header `yaml:"headers,omitempty"`

	// Threshold is the number of times a check must fail to trigger an
	// unhealthy state
	Threshold int `yaml:"threshold,omitempty"`
}

// TCPChecker is a type of entry in the health section for checking TCP
// servers.
type TCPChecker struct {
	// Timeout is the duration to wait before timing out the TCP connection
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Interval is the duration in between checks
	Interval time.Duration `yaml:"interval,omitempty"`

	// Addr is the TCP address to check
	Addr string `yaml:"addr,omitempty"`

	// Threshold is the number of times a check must fail to trigger an
	// unhealthy state
	Threshold int `yaml:"threshold,omitempty"`
}

// Parse parses an input configuration yaml document into a Configuration
// struct. This should generally be capable of handling old configuration
// format versions.
//
// Environment variables may be used to override configuration parameters
// other than version, following the scheme below:
// Configuration.Abc may be replaced by the value of COLLECTOR_ABC,
// Configuration.Abc.Xyz may be replaced by the value of COLLECTOR_ABC_XYZ,
// and so forth.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("collector", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				v0_1, ok := c.(*v0_1Configuration)
				if !ok {
					return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
				}

				if v0_1.Log.Level == Loglevel("") {
					if v0_1.Loglevel != Loglevel("") {
						v0_1.Log.Level = v0_1.Loglevel
					} else {
						v0_1.Log.Level = Loglevel("info")
					}
				}
				if v0_1.Loglevel != Loglevel("") {
					v0_1.Loglevel = Loglevel("")
				}

				if v0_1.Storage.Type() == "" {
					return nil, errors.New("no storage configuration provided")
				}
				if v0_1.Feed.Manifest == "" {
					return nil, errors.New("no feed manifest url provided")
				}
				if v0_1.Feed.DownloadDir == "" {
					return nil, errors.New("no feed download directory provided")
				}

				applyDefaults((*Configuration)(v0_1))

				return (*Configuration)(v0_1), nil
			},
		},
	})

	config := new(Configuration)
	err = p.Parse(in, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults fills in the zero-valued knobs a running collector needs.
// Validation of required fields happens before this in the conversion func.
func applyDefaults(config *Configuration) {
	feed := &config.Feed
	if feed.CheckInterval == 0 {
		feed.CheckInterval = 60 * time.Second
	}
	if feed.RetryInterval == 0 {
		feed.RetryInterval = 300 * time.Second
	}
	if feed.Timeout == 0 {
		feed.Timeout = 2 * time.Minute
	}
	if feed.Retry.Period == 0 {
		feed.Retry.Period = time.Second
	}
	if feed.Retry.MaxPeriod == 0 {
		feed.Retry.MaxPeriod = 5 * time.Second
	}
	if feed.Retry.MaxAttempts == 0 {
		feed.Retry.MaxAttempts = 3
	}

	if config.Redis.HashTTL == 0 {
		config.Redis.HashTTL = 7 * 24 * time.Hour
	}
	if config.Redis.StatusTTL == 0 {
		config.Redis.StatusTTL = time.Hour
	}

	if config.Bus.Topics.Event == "" {
		config.Bus.Topics.Event = "collector-event-topic"
	}
	if config.Bus.Topics.Mention == "" {
		config.Bus.Topics.Mention = "collector-mention-topic"
	}
	if config.Bus.Queue.Size == 0 {
		config.Bus.Queue.Size = 1024
	}

	if config.HTTP.Addr == "" {
		config.HTTP.Addr = ":8080"
	}
}
