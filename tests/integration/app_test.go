package integration

import (
	"context"
	"testing"
	"time"

	appinventory "github.com/farmerp/backend/internal/application/inventory"
	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/infrastructure/auth"
	"github.com/farmerp/backend/internal/infrastructure/config"
	"github.com/farmerp/backend/internal/infrastructure/event"
	"github.com/farmerp/backend/internal/infrastructure/logger"
	"github.com/farmerp/backend/internal/infrastructure/persistence"
	"github.com/farmerp/backend/internal/interfaces/http/handler"
	"github.com/farmerp/backend/internal/interfaces/http/middleware"
	"github.com/farmerp/backend/internal/interfaces/http/router"
	"github.com/farmerp/backend/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// app is the service wired the way cmd/server wires it, minus telemetry
type app struct {
	db         *TestDB
	service    *appinventory.UsageService
	seed       *testutil.StockSeeder
	client     *testutil.APIClient
	costEvents *testutil.MockEventHandler
}

func newApp(t *testing.T) *app {
	t.Helper()
	tdb := NewTestDB(t)
	log := zap.NewNop()

	bus := event.NewInMemoryEventBus(log)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	costEvents := testutil.NewMockEventHandler(inventory.EventTypeCostRecalculationRequested)
	bus.Subscribe(costEvents)

	scope := persistence.NewGormTransactionScope(tdb.DB, persistence.WithLockTimeout(5*time.Second))
	service := appinventory.NewUsageService(scope, persistence.NewGormRepositories(tdb.DB), nil, log)
	service.SetEventPublisher(bus)
	service.SetCostTrigger(appinventory.NewEventCostTrigger(bus))

	jwtService := auth.NewJWTService(config.JWTConfig{Secret: "integration-secret", Issuer: "farm-test"})
	token, err := jwtService.GenerateToken(testutil.ActorID(), "integration", time.Hour)
	require.NoError(t, err)

	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(logger.GinMiddleware(log), logger.Recovery(log))

	usageHandler := handler.NewUsageRecordHandler(service)
	systemHandler := handler.NewSystemHandler("farm-inventory", "test", map[string]handler.Pinger{"database": tdb.Database})
	r := router.NewRouter(engine, router.WithAPIMiddleware(middleware.JWTAuthMiddleware(jwtService)))
	r.Register(router.UsageRecordRoutes(usageHandler)).
		Register(router.LocationRoutes(usageHandler))
	r.Setup()
	router.RegisterProbes(engine, systemHandler)

	return &app{
		db:         tdb,
		service:    service,
		seed:       testutil.NewStockSeeder(tdb.DB),
		client:     &testutil.APIClient{Handler: engine, Token: token},
		costEvents: costEvents,
	}
}

// usageBody builds a create/update request body
func usageBody(kind, locationID, date string, lines ...map[string]any) map[string]any {
	return map[string]any{
		"kind":        kind,
		"location_id": locationID,
		"usage_date":  date,
		"lines":       lines,
	}
}

func line(item testutil.SeededItem, qty string) map[string]any {
	return map[string]any{
		"item_id":  item.ID().String(),
		"unit_id":  item.Smallest.String(),
		"quantity": qty,
	}
}
