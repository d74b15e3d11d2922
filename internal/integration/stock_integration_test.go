package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/db"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/events"
	httpapi "github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/http"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/sequence"
	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"
)

const lowStockCaptureQueue = "integration.stock.low"

func TestStockIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test needs docker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgC, dbURL := startPostgres(ctx, t)
	defer terminateContainer(t, pgC)

	rabbitC, rabbitURL := startRabbitMQ(ctx, t)
	defer terminateContainer(t, rabbitC)

	logger := zaptest.NewLogger(t)
	require.NoError(t, db.RunMigrations(dbURL, logger))

	conn := dialAMQP(ctx, t, rabbitURL)
	defer conn.Close()
	declareCaptureQueue(t, conn)

	app := startStockService(ctx, t, dbURL, rabbitURL, logger)
	defer app.stop()

	_, err := app.pool.Exec(ctx, `INSERT INTO menu_groups (id, store_id, name) VALUES ('g1', 'store-1', 'Korean set')`)
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}
	postJSON(ctx, t, client, app.baseURL+"/api/stock", map[string]any{"groupId": "g1", "capacity": 100}, http.StatusCreated)

	// 75 concurrent single sales take the group from 100 to 25.
	var wg sync.WaitGroup
	errs := make(chan error, 75)
	for i := 0; i < 75; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := app.svc.Deduct(ctx, "g1", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	requireStock(ctx, t, app.svc, "g1", 25)

	warning := waitForLowStock(ctx, t, conn)
	require.Equal(t, "g1", warning.Payload.GroupID)
	require.Equal(t, stock.ThresholdWarning, warning.Payload.Threshold)
	require.Equal(t, 30, warning.Payload.Remaining)
	require.Equal(t, "Korean set", warning.Payload.GroupName)
	require.Equal(t, "g1", warning.PartitionKey)

	// A menu order over the bus crosses the low threshold; its redelivery
	// does not deduct twice.
	order := events.MenuOrdered{OrderID: "order-1", GroupID: "g1", Quantity: 16, Timestamp: time.Now().UTC()}
	publish(ctx, t, conn, events.MenuOrderedRoutingKey, order)
	publish(ctx, t, conn, events.MenuOrderedRoutingKey, order)

	low := waitForLowStock(ctx, t, conn)
	require.Equal(t, stock.ThresholdLow, low.Payload.Threshold)
	require.Equal(t, 9, low.Payload.Remaining)
	require.Greater(t, low.Sequence, warning.Sequence)
	waitForStock(ctx, t, app.svc, "g1", 9)
	time.Sleep(500 * time.Millisecond)
	requireStock(ctx, t, app.svc, "g1", 9)

	// No oversell at the bottom either.
	var sold, rejected int
	var mu sync.Mutex
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := app.svc.Deduct(ctx, "g1", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, stock.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 9, sold)
	require.Equal(t, 21, rejected)
	requireStock(ctx, t, app.svc, "g1", 0)

	// The scheduler refills every group for the next operating day.
	publish(ctx, t, conn, events.DailyResetRoutingKey, events.DailyReset{Timestamp: time.Now().UTC()})
	waitForStock(ctx, t, app.svc, "g1", 100)

	// Stock records go with their group.
	_, err = app.pool.Exec(ctx, `DELETE FROM menu_groups WHERE id = 'g1'`)
	require.NoError(t, err)
	_, err = app.svc.Get(ctx, "g1")
	require.ErrorIs(t, err, stock.ErrGroupNotFound)
}

type stockApp struct {
	baseURL string
	pool    *pgxpool.Pool
	svc     *stock.Service
	stop    func()
}

func startStockService(ctx context.Context, t *testing.T, dbURL, rabbitURL string, logger *zap.Logger) *stockApp {
	t.Helper()

	pool, err := db.NewPool(ctx, dbURL, 32)
	require.NoError(t, err)

	conn := dialAMQP(ctx, t, rabbitURL)

	publisher, err := events.NewPublisher(conn, sequence.NewRepository(pool), events.PublisherOptions{PublishEnveloped: true})
	require.NoError(t, err)

	svc := stock.NewService(
		stock.NewPostgresStore(pool, 2*time.Second),
		stock.NewPostgresDirectory(pool),
		publisher,
		stock.WithLogger(logger),
	)

	serviceCtx, cancel := context.WithCancel(ctx)
	stopConsumers, err := events.StartStockConsumers(serviceCtx, conn, svc, svc, events.ConsumerOptions{ConsumeEnveloped: true}, logger)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{
		Handler:           httpapi.NewRouter(httpapi.NewHandler(svc, logger), nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return &stockApp{
		baseURL: fmt.Sprintf("http://%s", ln.Addr().String()),
		pool:    pool,
		svc:     svc,
		stop: func() {
			cancel()
			stopConsumers()
			_ = publisher.Close()
			_ = conn.Close()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
			pool.Close()

			select {
			case err := <-errCh:
				t.Logf("server error: %v", err)
			default:
			}
		},
	}
}

func startPostgres(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "menu_stock"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return container, fmt.Sprintf("postgres://postgres:postgres@%s:%s/menu_stock?sslmode=disable", host, mappedPort.Port())
}

func startRabbitMQ(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return container, fmt.Sprintf("amqp://guest:guest@%s:%s/", host, mappedPort.Port())
}

func terminateContainer(t *testing.T, c testcontainers.Container) {
	t.Helper()
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Terminate(terminateCtx))
}

func declareCaptureQueue(t *testing.T, conn *amqp.Connection) {
	t.Helper()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.ExchangeDeclare(events.EventsExchange, "topic", true, false, false, false, nil))
	_, err = ch.QueueDeclare(lowStockCaptureQueue, true, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(lowStockCaptureQueue, events.LowStockRoutingKey, events.EventsExchange, false, nil))
}

func publish(ctx context.Context, t *testing.T, conn *amqp.Connection, routingKey string, v any) {
	t.Helper()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	body, err := json.Marshal(v)
	require.NoError(t, err)

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(pubCtx, events.EventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	require.NoError(t, err)
}

func postJSON(ctx context.Context, t *testing.T, client *http.Client, url string, v any, want int) {
	t.Helper()

	body, err := json.Marshal(v)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, want, resp.StatusCode)
}

func waitForLowStock(ctx context.Context, t *testing.T, conn *amqp.Connection) events.LowStockEvent {
	t.Helper()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	backoff := 50 * time.Millisecond
	for {
		select {
		case <-pollCtx.Done():
			t.Fatalf("timed out waiting for low-stock event: %v", pollCtx.Err())
		default:
		}

		msg, ok, err := ch.Get(lowStockCaptureQueue, true)
		require.NoError(t, err)
		if ok {
			var ev events.LowStockEvent
			require.NoError(t, json.Unmarshal(msg.Body, &ev))
			return ev
		}

		time.Sleep(backoff)
		backoff = min(backoff*2, time.Second)
	}
}

func waitForStock(ctx context.Context, t *testing.T, svc *stock.Service, groupID string, expected int) {
	t.Helper()

	pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	backoff := 50 * time.Millisecond
	for {
		res, err := svc.Get(pollCtx, groupID)
		if err == nil && res.Stock == expected {
			return
		}

		select {
		case <-pollCtx.Done():
			t.Fatalf("timed out waiting for %s to reach %d (last %d, %v)", groupID, expected, res.Stock, err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Second)
	}
}

func requireStock(ctx context.Context, t *testing.T, svc *stock.Service, groupID string, expected int) {
	t.Helper()
	res, err := svc.Get(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, expected, res.Stock)
}

func dialAMQP(ctx context.Context, t *testing.T, rabbitURL string) *amqp.Connection {
	t.Helper()
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := amqp.DialConfig(rabbitURL, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			return (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 5 * time.Second,
			}).DialContext(dialCtx, network, addr)
		},
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	require.NoError(t, err)
	return conn
}
