package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/certificate/models"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("CERTLEDGER_SERVER_ADMIN_TOKEN", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.SequenceBackend())
	assert.Equal(t, "filesystem", cfg.Artifacts.Backend)
	assert.Equal(t, 15*time.Second, cfg.Certificates.RenderTimeout)
	assert.Equal(t, 3, cfg.Certificates.MaxAttempts)
	assert.Equal(t, models.DefaultExpiryPolicy(), cfg.ExpiryPolicy())

	policy, err := cfg.RolePolicy()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRolePolicy(), policy)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CERTLEDGER_SERVER_ADMIN_TOKEN", "s3cret")
	t.Setenv("CERTLEDGER_DATABASE_URL", "postgres://localhost/certledger")
	t.Setenv("CERTLEDGER_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("CERTLEDGER_CERTIFICATES_ROLE_PREFIXES", "user:MB,vendor:VD")
	t.Setenv("CERTLEDGER_CERTIFICATES_REGION", "ng")
	t.Setenv("CERTLEDGER_CERTIFICATES_EXPIRY_CUTOFF_MONTH", "6")
	t.Setenv("CERTLEDGER_CERTIFICATES_EXPIRY_CUTOFF_DAY", "30")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.SequenceBackend())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, models.ExpiryPolicy{CutoffMonth: time.June, CutoffDay: 30}, cfg.ExpiryPolicy())

	policy, err := cfg.RolePolicy()
	require.NoError(t, err)
	assert.Equal(t, "MB", policy.Prefixes[models.SubjectTypeUser])
	assert.Equal(t, "VD", policy.Prefixes[models.SubjectTypeVendor])
	assert.Equal(t, "NG", policy.Region)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing admin token": {},
		"redis allocator without redis": {
			"CERTLEDGER_SERVER_ADMIN_TOKEN": "s3cret",
			"CERTLEDGER_SEQUENCE_BACKEND":   "redis",
		},
		"relay without database": {
			"CERTLEDGER_SERVER_ADMIN_TOKEN": "s3cret",
			"CERTLEDGER_KAFKA_BROKERS":      "kafka:9092",
		},
		"unknown subject type": {
			"CERTLEDGER_SERVER_ADMIN_TOKEN":         "s3cret",
			"CERTLEDGER_CERTIFICATES_ROLE_PREFIXES": "user:YM,vendor:YV,robot:RB",
		},
		"zero attempts": {
			"CERTLEDGER_SERVER_ADMIN_TOKEN":        "s3cret",
			"CERTLEDGER_CERTIFICATES_MAX_ATTEMPTS": "0",
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
