package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixBatch        = "certissuer:batch:"
	keyPrefixCertificates = "certissuer:certs:" // one hash per batch, field = index
	keySchemaVersion      = "certissuer:metadata:schema_version"
	currentSchemaVersion  = "v1"

	// Redis has no prefix iteration, so batch ids are tracked in a set
	keySetBatches = "certissuer:batches:index"

	operationTimeout = 5 * time.Second
)

// RedisPersistence is an IBatchPersistence backed by Redis, for issuers that
// run in containers without a durable disk.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address  string
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "tenant-a:" gives
	// "tenant-a:certissuer:batch:<id>"
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisPersistence) batchKey(id string) string {
	return r.prefixKey(keyPrefixBatch + id)
}

func (r *RedisPersistence) certificatesKey(batchID string) string {
	return r.prefixKey(keyPrefixCertificates + batchID)
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func (r *RedisPersistence) SaveBatch(batch *persistence.BatchRecord) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalBatchRecord(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.batchKey(batch.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetBatches), batch.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save batch %s: %w", batch.ID, err)
	}
	return nil
}

func (r *RedisPersistence) LoadBatch(id string) (*persistence.BatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.batchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}
	return persistence.UnmarshalBatchRecord(data)
}

func (r *RedisPersistence) ListBatches() ([]*persistence.BatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.prefixKey(keySetBatches)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list batch ids: %w", err)
	}
	if len(ids) == 0 {
		return []*persistence.BatchRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.batchKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batches: %w", err)
	}

	batches := make([]*persistence.BatchRecord, 0, len(values))
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			// index entry without a record, e.g. a concurrent delete
			continue
		}
		batch, err := persistence.UnmarshalBatchRecord([]byte(str))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal BatchRecord, skipping", "id", ids[i], "error", err)
			continue
		}
		batches = append(batches, batch)
	}

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt == batches[j].CreatedAt {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].CreatedAt < batches[j].CreatedAt
	})
	return batches, nil
}

func (r *RedisPersistence) DeleteBatch(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.batchKey(id), r.certificatesKey(id))
	pipe.SRem(ctx, r.prefixKey(keySetBatches), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", id, err)
	}
	return nil
}

func (r *RedisPersistence) SaveCertificate(cert *persistence.CertificateRecord) error {
	if err := cert.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalCertificateRecord(cert)
	if err != nil {
		return fmt.Errorf("failed to marshal CertificateRecord: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.HSet(ctx, r.certificatesKey(cert.BatchID), strconv.Itoa(cert.Index), data).Err(); err != nil {
		return fmt.Errorf("failed to save certificate %d of batch %s: %w", cert.Index, cert.BatchID, err)
	}
	return nil
}

func (r *RedisPersistence) ListCertificates(batchID string) ([]*persistence.CertificateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	values, err := r.client.HGetAll(ctx, r.certificatesKey(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates for batch %s: %w", batchID, err)
	}

	certs := make([]*persistence.CertificateRecord, 0, len(values))
	for field, value := range values {
		cert, err := persistence.UnmarshalCertificateRecord([]byte(value))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal CertificateRecord, skipping", "batch", batchID, "index", field, "error", err)
			continue
		}
		certs = append(certs, cert)
	}
	sort.Slice(certs, func(i, j int) bool {
		return certs[i].Index < certs[j].Index
	})
	return certs, nil
}

// Close closes the client. Idempotent.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	}
	return nil
}
