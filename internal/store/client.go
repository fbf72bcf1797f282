package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/circuitbreaker"
	"github.com/propelship/leadforge/internal/metrics"
	"github.com/propelship/leadforge/internal/models"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages database connections and operations
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	// Write queue for async operations
	writeQueue chan writeRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// writeRequest represents an async write operation
type writeRequest struct {
	Type     writeType
	Data     interface{}
	Callback func(error)
}

type writeType int

const (
	writeTypeEvent writeType = iota
	writeTypeProgress
)

func (wt writeType) String() string {
	switch wt {
	case writeTypeEvent:
		return "RunEvent"
	case writeTypeProgress:
		return "Progress"
	default:
		return "Unknown"
	}
}

// progressUpdate is the payload for async progress writes.
type progressUpdate struct {
	AgentID  string
	Progress float64
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	db := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := newClient(db, logger)
	go client.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// NewClientWithDB wraps an already-open pool. Used by tests against the
// sqlite driver; no health loop is started.
func NewClientWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return newClient(circuitbreaker.NewDatabaseWrapper(db, logger), logger)
}

func newClient(db *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *Client {
	client := &Client{
		db:         db,
		logger:     logger,
		writeQueue: make(chan writeRequest, 1000),
		workers:    4,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()
	return client
}

// startWorkers initializes the worker pool for async writes
func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

// writeWorker processes write requests from the queue. Events are
// accumulated and flushed in batches; everything else writes immediately.
func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))

	eventBuffer := make([]*models.RunEvent, 0, 50)
	flushTicker := time.NewTicker(250 * time.Millisecond)
	defer flushTicker.Stop()

	flush := func() {
		if len(eventBuffer) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.AppendEvents(ctx, eventBuffer); err != nil {
			c.logger.Error("Failed to flush event batch",
				zap.Int("count", len(eventBuffer)),
				zap.Error(err),
			)
		}
		cancel()
		eventBuffer = eventBuffer[:0]
	}

	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			flush()
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return

		case req := <-c.writeQueue:
			metrics.WriteQueueDepth.Set(float64(len(c.writeQueue)))
			if req.Type == writeTypeEvent {
				if e, ok := req.Data.(*models.RunEvent); ok {
					eventBuffer = append(eventBuffer, e)
					if len(eventBuffer) >= 50 {
						flush()
					}
				}
				if req.Callback != nil {
					req.Callback(nil)
				}
				continue
			}
			c.processWrite(req)

		case <-flushTicker.C:
			flush()
		}
	}
}

// processWrite handles a single write request
func (c *Client) processWrite(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Type {
	case writeTypeEvent:
		if e, ok := req.Data.(*models.RunEvent); ok {
			err = c.AppendEvent(ctx, e)
		}
	case writeTypeProgress:
		if p, ok := req.Data.(progressUpdate); ok {
			err = c.UpdateAgentProgress(ctx, p.AgentID, p.Progress)
		}
	}

	if req.Callback != nil {
		req.Callback(err)
	}

	if err != nil {
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// queueWrite adds a write request to the async queue, falling back to a
// synchronous write when the queue is full so nothing is dropped.
func (c *Client) queueWrite(wt writeType, data interface{}, callback func(error)) {
	req := writeRequest{Type: wt, Data: data, Callback: callback}

	select {
	case c.writeQueue <- req:
		metrics.WriteQueueDepth.Set(float64(len(c.writeQueue)))
	default:
		metrics.WriteQueueFallbacks.Inc()
		c.logger.Warn("Write queue is full, falling back to synchronous write",
			zap.String("type", wt.String()))
		c.processWrite(req)
	}
}

// QueueEvent appends a run event through the async write queue.
func (c *Client) QueueEvent(e *models.RunEvent) {
	c.queueWrite(writeTypeEvent, e, nil)
}

// QueueProgress updates run progress through the async write queue.
func (c *Client) QueueProgress(agentID string, progress float64) {
	c.queueWrite(writeTypeProgress, progressUpdate{AgentID: agentID, Progress: progress}, nil)
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping checks connectivity through the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")

	close(c.stopCh)
	c.workerWg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("Database client closed")
	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
