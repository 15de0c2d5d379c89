package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/greenhouse/api/controllers"
	"github.com/angelmondragon/greenhouse/api/middleware"
	"github.com/angelmondragon/greenhouse/pkg/config"
	"github.com/angelmondragon/greenhouse/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	sessions middleware.SessionProvider,
	productService controllers.ProductSnapshotter,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.DeviceContext(sessions, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartGet(logg))
			r.Delete("/", controllers.CartClear(logg))
			r.Post("/items", controllers.CartAddItem(productService, logg))
			r.Put("/items/{productId}", controllers.CartSetQuantity(logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(logg))
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/", controllers.SessionGet(logg))
			r.Post("/", controllers.SessionSignIn(cfg.JWT, logg))
			r.Delete("/", controllers.SessionSignOut(logg))
		})
	})

	return r
}
