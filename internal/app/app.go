package app

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"fulfillmentservice/internal/handlers"
)

// Application holds all the components and manages the application lifecycle
type Application struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *Container
}

// NewApplication creates and fully initializes a new Application instance
func NewApplication(ctx context.Context) (*Application, error) {
	appCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, os.Kill)

	app := &Application{
		ctx:    appCtx,
		cancel: cancel,
	}

	container, err := NewContainer(app.ctx)
	if err != nil {
		cancel() // Clean up context if initialization fails
		return nil, err
	}
	app.container = container

	app.container.Logger().Info("Application initialized successfully")
	return app, nil
}

// Run starts one consumption loop per subscribed subject and blocks until
// every loop has drained after cancellation.
func (app *Application) Run() error {
	var wg sync.WaitGroup
	for _, service := range app.container.ConsumerServices() {
		wg.Add(1)
		go func(service *handlers.ConsumerService) {
			defer wg.Done()
			_ = service.Start(app.ctx)
		}(service)
	}
	wg.Wait()
	return nil
}

// Shutdown gracefully shuts down all application components
func (app *Application) Shutdown() {
	if app.container != nil {
		app.container.Logger().Info("Starting application shutdown...")
	}

	if app.cancel != nil {
		app.cancel()
	}

	if app.container != nil {
		app.container.Shutdown(context.Background())
	}
}
