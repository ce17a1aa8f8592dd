package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MinHashCost is the lowest bcrypt cost accepted for stored secrets.
const MinHashCost = 10

var (
	ErrInvalidHasherConfig = errors.New("auth: invalid hasher config")
	ErrEmptySecret         = errors.New("auth: secret must not be empty")
	ErrSecretTooLong       = errors.New("auth: secret exceeds 72 bytes")
	ErrMalformedHash       = errors.New("auth: stored hash is malformed")
)

// HasherConfig configures the bcrypt hasher.
type HasherConfig struct {
	Cost int
	// Concurrency bounds simultaneous hash computations; zero means GOMAXPROCS.
	Concurrency int
}

// Hasher produces and verifies salted bcrypt hashes off the calling goroutine.
type Hasher struct {
	cost  int
	slots *semaphore.Weighted
}

// NewHasher validates the cost factor and sizes the hashing pool.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Cost < MinHashCost || cfg.Cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: cost %d outside [%d, %d]", ErrInvalidHasherConfig, cfg.Cost, MinHashCost, bcrypt.MaxCost)
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("%w: negative concurrency", ErrInvalidHasherConfig)
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Hasher{
		cost:  cfg.Cost,
		slots: semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Hash returns a bcrypt hash of secret. Each call uses a fresh random salt.
func (h *Hasher) Hash(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > 72 {
		return "", ErrSecretTooLong
	}
	result, err := h.run(ctx, func() (hashResult, error) {
		hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
		return hashResult{hashed: string(hashed)}, err
	})
	if err != nil {
		return "", err
	}
	return result.hashed, nil
}

// Verify reports whether secret matches hashed. A mismatch is (false, nil);
// an error is returned only when the stored hash cannot be parsed.
func (h *Hasher) Verify(ctx context.Context, secret, hashed string) (bool, error) {
	result, err := h.run(ctx, func() (hashResult, error) {
		compareErr := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret))
		switch {
		case compareErr == nil:
			return hashResult{match: true}, nil
		case errors.Is(compareErr, bcrypt.ErrMismatchedHashAndPassword):
			return hashResult{}, nil
		default:
			return hashResult{}, fmt.Errorf("%w: %v", ErrMalformedHash, compareErr)
		}
	})
	if err != nil {
		return false, err
	}
	return result.match, nil
}

type hashResult struct {
	hashed string
	match  bool
}

func (h *Hasher) run(ctx context.Context, work func() (hashResult, error)) (hashResult, error) {
	if err := ctx.Err(); err != nil {
		return hashResult{}, err
	}
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return hashResult{}, err
	}

	type outcome struct {
		result hashResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer h.slots.Release(1)
		result, err := work()
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return hashResult{}, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}
