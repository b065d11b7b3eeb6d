package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"realtime-chat/internal/config"
)

// ErrStoreUnavailable indica que se agotaron los reintentos de conexion al arrancar.
var ErrStoreUnavailable = errors.New("store unavailable")

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// RetryPolicy define el presupuesto de reintentos del arranque.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = 500 * time.Millisecond
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	if p.MaxBackoff > 0 {
		exp.MaxInterval = p.MaxBackoff
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Retry ejecuta op con backoff exponencial hasta agotar el presupuesto.
// El error final envuelve ErrStoreUnavailable.
func Retry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, op func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, policy.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn("store not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrStoreUnavailable, attempt, err)
	}
	return nil
}

// Connect abre el pool y espera a que responda, reintentando segun la politica.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	policy := RetryPolicy{
		Attempts:       cfg.DBConnectAttempts,
		InitialBackoff: time.Duration(cfg.DBConnectInitialBackoffMS) * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}

	var pool *pgxpool.Pool
	err := Retry(ctx, policy, logger, func(ctx context.Context) error {
		p, err := NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := Ping(pingCtx, p); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
