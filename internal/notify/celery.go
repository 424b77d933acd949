package notify

import (
	"time"

	"github.com/gocelery/gocelery"
	"github.com/gomodule/redigo/redis"
	"golang.org/x/xerrors"
)

// CeleryService publishes tasks to the provisioning daemon through a redis
// broker.
type CeleryService struct {
	pool *redis.Pool
	cli  *gocelery.CeleryClient
}

func newRedisPool(url string, password string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,                 // maximum number of idle connections in the pool
		MaxActive:   0,                 // maximum number of connections allocated by the pool at a given time
		IdleTimeout: 240 * time.Second, // close connections after remaining idle for this duration
		Dial: func() (redis.Conn, error) {
			if password != "" {
				return redis.DialURL(url, redis.DialPassword(password))
			}
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}
}

func NewCeleryService(url, password string, workers int) (*CeleryService, error) {
	pool := newRedisPool(url, password)
	cli, err := gocelery.NewCeleryClient(
		gocelery.NewRedisBroker(pool),
		gocelery.NewRedisBackend(pool),
		workers)
	if err != nil {
		pool.Close()
		return nil, xerrors.Errorf("init celery client: %w", err)
	}
	return &CeleryService{pool: pool, cli: cli}, nil
}

// Ping checks the broker is reachable.
func (s *CeleryService) Ping() error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("PING")
	return err
}

func (s *CeleryService) RegisterTask(taskName string, task interface{}) {
	s.cli.Register(taskName, task)
}

func (s *CeleryService) DelayTask(taskName string, params ...interface{}) (*gocelery.AsyncResult, error) {
	return s.cli.Delay(taskName, params...)
}

func (s *CeleryService) Start() {
	s.cli.StartWorker()
}

func (s *CeleryService) Stop() {
	s.cli.StopWorker()
}

func (s *CeleryService) Close() error {
	return s.pool.Close()
}
