package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultOrderRateLimit       = 30
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultStorageDriver        = StorageDriverFirestore
	defaultEventsDriver         = EventsDriverLog
	defaultCurrency             = "ars"
	defaultLookupTimeout        = 10 * time.Second
	defaultTransferWindow       = 15 * time.Minute
	defaultSweepBatchSize       = 100
	defaultSweepConcurrency     = 4
	defaultBeaconTimeout        = 3 * time.Second
	defaultQueueWorkers         = 2
	defaultQueueCapacity        = 256
	defaultShippingMethods      = "standard=Envio estandar:1500,express=Envio express:3500,pickup=Retiro en local:0"
)

// Storage drivers supported by the repository registry.
const (
	StorageDriverMemory    = "memory"
	StorageDriverFirestore = "firestore"
	StorageDriverPostgres  = "postgres"
)

// Event transports supported by the notification dispatcher.
const (
	EventsDriverLog    = "log"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Orders      OrdersConfig
	Transfer    TransferConfig
	Shipping    ShippingConfig
	Events      EventsConfig
	Beacon      BeaconConfig
	Queue       QueueConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	LogLevel         string
	// OrderRateLimit caps storefront order mutations per client address per minute. Zero disables it.
	OrderRateLimit   int
	// TrustedProxyHops is how many proxies in front of the service append to X-Forwarded-For.
	// Zero keys clients by connection address.
	TrustedProxyHops int
}

// FirebaseConfig stores Firebase project settings used for staff authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig selects the persistence backend and related buckets.
type StorageConfig struct {
	Driver               string
	PostgresDSN          string
	ReconciliationBucket string
	CatalogSeedFile      string
	SignerKey            string
}

// PSPConfig collects payment provider credentials and redirect targets.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
	SuccessURL          string
	FailureURL          string
	LookupTimeout       time.Duration
}

// OrdersConfig tunes the order lifecycle.
type OrdersConfig struct {
	TransferWindow          time.Duration
	TransferDiscountPercent int
	SweepInterval           time.Duration
	SweepBatchSize          int
	SweepConcurrency        int
}

// TransferConfig holds the bank account shown to transfer customers.
type TransferConfig struct {
	BankName      string
	AccountHolder string
	AccountNumber string
	Alias         string
}

// ShippingConfig lists the shipping methods offered at checkout.
type ShippingConfig struct {
	Methods []ShippingMethod
}

// ShippingMethod is one priced delivery option.
type ShippingMethod struct {
	ID    string
	Label string
	Cost  int64
}

// EventsConfig selects where lifecycle events are published.
type EventsConfig struct {
	Driver        string
	PubSubProject string
	PubSubTopic   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaUsername string
	KafkaPassword string
}

// BeaconConfig points at the conversion tracking receiver. An empty URL disables it.
type BeaconConfig struct {
	URL     string
	Timeout time.Duration
}

// QueueConfig sizes the in-process background work queue.
type QueueConfig struct {
	Workers  int
	Capacity int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL       string
	Audience      string
	Audiences     map[string]string
	Issuers       []string
	AllowedEmails []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	var invalid []string
	methods, err := parseShippingMethods(stringWithDefault(lookup, "API_SHIPPING_METHODS", defaultShippingMethods))
	if err != nil {
		invalid = append(invalid, "Shipping.Methods")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:             stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:      durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:     durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:      durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			LogLevel:         stringWithDefault(lookup, "API_LOG_LEVEL", "info"),
			ShutdownTimeout:  durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			OrderRateLimit:   intWithDefault(lookup, "API_SERVER_ORDER_RATE_LIMIT", defaultOrderRateLimit),
			TrustedProxyHops: intWithDefault(lookup, "API_SERVER_TRUSTED_PROXY_HOPS", 0),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			Driver:               strings.ToLower(stringWithDefault(lookup, "API_STORAGE_DRIVER", defaultStorageDriver)),
			PostgresDSN:          stringWithDefault(lookup, "API_STORAGE_POSTGRES_DSN", ""),
			ReconciliationBucket: stringWithDefault(lookup, "API_STORAGE_RECONCILIATION_BUCKET", ""),
			CatalogSeedFile:      stringWithDefault(lookup, "API_STORAGE_CATALOG_SEED_FILE", ""),
			SignerKey:            stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:            strings.ToLower(stringWithDefault(lookup, "API_PSP_CURRENCY", defaultCurrency)),
			SuccessURL:          stringWithDefault(lookup, "API_PSP_SUCCESS_URL", ""),
			FailureURL:          stringWithDefault(lookup, "API_PSP_FAILURE_URL", ""),
			LookupTimeout:       durationWithDefault(lookup, "API_PSP_LOOKUP_TIMEOUT", defaultLookupTimeout),
		},
		Orders: OrdersConfig{
			TransferWindow:          durationWithDefault(lookup, "API_ORDERS_TRANSFER_WINDOW", defaultTransferWindow),
			TransferDiscountPercent: intWithDefault(lookup, "API_ORDERS_TRANSFER_DISCOUNT_PERCENT", 0),
			SweepInterval:           durationWithDefault(lookup, "API_ORDERS_SWEEP_INTERVAL", 0),
			SweepBatchSize:          intWithDefault(lookup, "API_ORDERS_SWEEP_BATCH_SIZE", defaultSweepBatchSize),
			SweepConcurrency:        intWithDefault(lookup, "API_ORDERS_SWEEP_CONCURRENCY", defaultSweepConcurrency),
		},
		Transfer: TransferConfig{
			BankName:      stringWithDefault(lookup, "API_TRANSFER_BANK_NAME", ""),
			AccountHolder: stringWithDefault(lookup, "API_TRANSFER_ACCOUNT_HOLDER", ""),
			AccountNumber: stringWithDefault(lookup, "API_TRANSFER_ACCOUNT_NUMBER", ""),
			Alias:         stringWithDefault(lookup, "API_TRANSFER_ALIAS", ""),
		},
		Shipping: ShippingConfig{Methods: methods},
		Events: EventsConfig{
			Driver:        strings.ToLower(stringWithDefault(lookup, "API_EVENTS_DRIVER", defaultEventsDriver)),
			PubSubProject: stringWithDefault(lookup, "API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:   stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers:  csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:    stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", ""),
			KafkaUsername: stringWithDefault(lookup, "API_EVENTS_KAFKA_USERNAME", ""),
			KafkaPassword: stringWithDefault(lookup, "API_EVENTS_KAFKA_PASSWORD", ""),
		},
		Beacon: BeaconConfig{
			URL:     stringWithDefault(lookup, "API_BEACON_URL", ""),
			Timeout: durationWithDefault(lookup, "API_BEACON_TIMEOUT", defaultBeaconTimeout),
		},
		Queue: QueueConfig{
			Workers:  intWithDefault(lookup, "API_QUEUE_WORKERS", defaultQueueWorkers),
			Capacity: intWithDefault(lookup, "API_QUEUE_CAPACITY", defaultQueueCapacity),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:       stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:      stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:     mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:       csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
				AllowedEmails: csvWithDefault(lookup, "API_SECURITY_OIDC_ALLOWED_EMAILS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProject == "" {
		cfg.Events.PubSubProject = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Storage.PostgresDSN", &cfg.Storage.PostgresDSN},
		{"Events.KafkaPassword", &cfg.Events.KafkaPassword},
		{"Storage.SignerKey", &cfg.Storage.SignerKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Server.OrderRateLimit >= 0, "Server.OrderRateLimit")
	require(cfg.Server.TrustedProxyHops >= 0, "Server.TrustedProxyHops")

	switch cfg.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StorageDriverPostgres:
		require(cfg.Storage.PostgresDSN != "", "Storage.PostgresDSN")
	default:
		missing = append(missing, "Storage.Driver")
	}

	switch cfg.Events.Driver {
	case EventsDriverLog:
	case EventsDriverPubSub:
		require(cfg.Events.PubSubProject != "", "Events.PubSubProject")
		require(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
	case EventsDriverKafka:
		require(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		require(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		missing = append(missing, "Events.Driver")
	}

	require(cfg.PSP.SuccessURL != "", "PSP.SuccessURL")
	require(cfg.PSP.FailureURL != "", "PSP.FailureURL")
	require(cfg.PSP.LookupTimeout > 0, "PSP.LookupTimeout")
	require(cfg.Orders.TransferWindow > 0, "Orders.TransferWindow")
	require(cfg.Orders.TransferDiscountPercent >= 0 && cfg.Orders.TransferDiscountPercent <= 100, "Orders.TransferDiscountPercent")
	require(cfg.Orders.SweepInterval >= 0, "Orders.SweepInterval")
	require(cfg.Orders.SweepBatchSize > 0, "Orders.SweepBatchSize")
	require(cfg.Orders.SweepConcurrency > 0, "Orders.SweepConcurrency")
	require(len(cfg.Shipping.Methods) > 0, "Shipping.Methods")
	require(cfg.Queue.Workers > 0, "Queue.Workers")
	require(cfg.Queue.Capacity > 0, "Queue.Capacity")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// parseShippingMethods reads "id=Label:cost" entries separated by commas.
func parseShippingMethods(raw string) ([]ShippingMethod, error) {
	var methods []ShippingMethod
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("shipping method %q: missing '='", entry)
		}
		sep := strings.LastIndex(rest, ":")
		if sep < 0 {
			return nil, fmt.Errorf("shipping method %q: missing cost", entry)
		}
		cost, err := strconv.ParseInt(strings.TrimSpace(rest[sep+1:]), 10, 64)
		if err != nil || cost < 0 {
			return nil, fmt.Errorf("shipping method %q: invalid cost", entry)
		}
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return nil, fmt.Errorf("shipping method %q: empty id", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("shipping method %q: duplicate id", id)
		}
		seen[id] = struct{}{}
		methods = append(methods, ShippingMethod{ID: id, Label: strings.TrimSpace(rest[:sep]), Cost: cost})
	}
	return methods, nil
}
