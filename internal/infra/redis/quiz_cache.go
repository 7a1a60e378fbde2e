package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-schedule-service/internal/domain"
)

// QuizLoader fetches quiz definitions from the backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error)
}

// QuizCache keeps quiz definitions in Redis so every instance shares one warm copy.
// Definitions are stored as JSON under quiz:{quizID}:definition with a jittered TTL.
type QuizCache struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	log    *zap.Logger
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuizCache(client *redis.Client, loader QuizLoader, ttl time.Duration, log *zap.Logger) *QuizCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuizCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error) {
	if quiz, ok := c.read(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(quizID, 10), func() (interface{}, error) {
		// another goroutine may have filled it
		if quiz, ok := c.read(ctx, quizID); ok {
			return quiz, nil
		}
		quiz, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(quiz)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, c.key(quizID), raw, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn("cache quiz in redis", zap.Int64("quizId", quizID), zap.Error(err))
		}
		return quiz, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.QuizDefinition), nil
}

// Invalidate removes the cached definition so the next read reloads it.
func (c *QuizCache) Invalidate(ctx context.Context, quizID int64) error {
	return c.client.Del(ctx, c.key(quizID)).Err()
}

func (c *QuizCache) read(ctx context.Context, quizID int64) (*domain.QuizDefinition, bool) {
	raw, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("read quiz from redis", zap.Int64("quizId", quizID), zap.Error(err))
		}
		return nil, false
	}
	var quiz domain.QuizDefinition
	if err := json.Unmarshal(raw, &quiz); err != nil {
		c.log.Warn("decode cached quiz", zap.Int64("quizId", quizID), zap.Error(err))
		return nil, false
	}
	return &quiz, true
}

func (c *QuizCache) key(quizID int64) string {
	return "quiz:" + strconv.FormatInt(quizID, 10) + ":definition"
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
