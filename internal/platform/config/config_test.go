package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "lr-dev",
		"API_PSP_SUCCESS_URL":     "https://tienda.example.com/gracias",
		"API_PSP_FAILURE_URL":     "https://tienda.example.com/carrito",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "lr-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Storage.Driver != StorageDriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Events.Driver != EventsDriverLog {
		t.Errorf("expected log events driver, got %s", cfg.Events.Driver)
	}
	if cfg.Orders.TransferWindow != 15*time.Minute {
		t.Errorf("unexpected transfer window %s", cfg.Orders.TransferWindow)
	}
	if cfg.Server.TrustedProxyHops != 0 {
		t.Errorf("expected forwarded headers untrusted by default, got %d hops", cfg.Server.TrustedProxyHops)
	}
	if cfg.Server.OrderRateLimit != 30 {
		t.Errorf("expected default order rate limit 30, got %d", cfg.Server.OrderRateLimit)
	}
	if cfg.Orders.SweepInterval != 0 {
		t.Errorf("expected sweep ticker disabled by default, got %s", cfg.Orders.SweepInterval)
	}
	if cfg.PSP.LookupTimeout != 10*time.Second {
		t.Errorf("unexpected lookup timeout %s", cfg.PSP.LookupTimeout)
	}
	if len(cfg.Shipping.Methods) != 3 || cfg.Shipping.Methods[0].ID != "standard" || cfg.Shipping.Methods[0].Cost != 1500 {
		t.Errorf("unexpected default shipping methods %#v", cfg.Shipping.Methods)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	for key, value := range map[string]string{
		"API_SERVER_PORT":                      "9090",
		"API_SERVER_TRUSTED_PROXY_HOPS":        "2",
		"API_STORAGE_DRIVER":                   "postgres",
		"API_STORAGE_POSTGRES_DSN":             "secret://db/dsn",
		"API_PSP_STRIPE_API_KEY":               "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":        "sm://stripe/webhook",
		"API_PSP_LOOKUP_TIMEOUT":               "4s",
		"API_ORDERS_TRANSFER_WINDOW":           "30m",
		"API_ORDERS_TRANSFER_DISCOUNT_PERCENT": "10",
		"API_ORDERS_SWEEP_INTERVAL":            "1m",
		"API_SHIPPING_METHODS":                 "moto=Moto CABA:2500, correo=Correo: sucursal:1800",
		"API_EVENTS_DRIVER":                    "kafka",
		"API_EVENTS_KAFKA_BROKERS":             "k1:9092, k2:9092",
		"API_EVENTS_KAFKA_TOPIC":               "orders.lifecycle",
		"API_SECURITY_ENVIRONMENT":             "PROD",
		"API_SECURITY_OIDC_AUDIENCES":          "prod=https://api.example.com,stg=https://stg.example.com",
	} {
		env[key] = value
	}

	secrets := map[string]string{
		"secret://db/dsn":         "postgres://lr@db/lr",
		"secret://stripe/api":     "sk_test_1",
		"secret://stripe/webhook": "whsec_1",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.TrustedProxyHops != 2 {
		t.Errorf("expected two trusted proxy hops, got %d", cfg.Server.TrustedProxyHops)
	}
	if cfg.Storage.PostgresDSN != "postgres://lr@db/lr" {
		t.Errorf("expected resolved dsn, got %s", cfg.Storage.PostgresDSN)
	}
	if cfg.PSP.StripeWebhookSecret != "whsec_1" {
		t.Errorf("expected legacy scheme resolved, got %s", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.Orders.TransferWindow != 30*time.Minute || cfg.Orders.TransferDiscountPercent != 10 {
		t.Errorf("unexpected orders config %#v", cfg.Orders)
	}
	if len(cfg.Shipping.Methods) != 2 || cfg.Shipping.Methods[1].Label != "Correo: sucursal" || cfg.Shipping.Methods[1].Cost != 1800 {
		t.Errorf("unexpected shipping methods %#v", cfg.Shipping.Methods)
	}
	if len(cfg.Events.KafkaBrokers) != 2 {
		t.Errorf("expected two brokers, got %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Security.OIDC.Audience != "https://api.example.com" {
		t.Errorf("expected audience from environment map, got %s", cfg.Security.OIDC.Audience)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"lr-dot\"\nAPI_PSP_SUCCESS_URL=https://a\nAPI_PSP_FAILURE_URL=https://b\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "lr-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := map[string]bool{}
	for _, f := range validation.Fields() {
		fields[f] = true
	}
	for _, want := range []string{"Firestore.ProjectID", "PSP.SuccessURL", "PSP.FailureURL"} {
		if !fields[want] {
			t.Errorf("expected %s in %v", want, validation.Fields())
		}
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := baseEnv()
	env["API_SHIPPING_METHODS"] = "broken"
	env["API_ORDERS_TRANSFER_DISCOUNT_PERCENT"] = "120"
	env["API_EVENTS_DRIVER"] = "pubsub"
	env["API_SERVER_TRUSTED_PROXY_HOPS"] = "-1"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got := map[string]bool{}
	for _, f := range validation.Fields() {
		got[f] = true
	}
	for _, want := range []string{"Shipping.Methods", "Orders.TransferDiscountPercent", "Events.PubSubTopic", "Server.TrustedProxyHops"} {
		if !got[want] {
			t.Errorf("expected %s in %v", want, validation.Fields())
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_PSP_STRIPE_API_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "override-project"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeWebhookSecret"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("PSP.StripeWebhookSecret") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		if !ok {
			t.Fatal("expected MissingSecretsError panic")
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"),
		WithPanicOnMissingSecrets(),
	)
}
