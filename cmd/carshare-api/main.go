// README: Entry point; loads config, wires services, starts HTTP server and background reconcilers.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"carshare/internal/config"
	httptransport "carshare/internal/http"
	"carshare/internal/infra"
	"carshare/internal/maps"
	"carshare/internal/modules/booking"
	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	gin.SetMode(cfg.HTTP.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		log.Fatalf("auth init: %v", err)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	var (
		locker   booking.Locker = booking.NewLocalLocker()
		geoIndex ride.GeoIndex
	)
	if cfg.Redis.Addr != "" {
		redisClient := infra.NewRedis(cfg.Redis.Addr)
		defer redisClient.Close()
		locker = booking.NewRedisLocker(redisClient)
		geoIndex = ride.NewRedisGeoIndex(redisClient)
	} else {
		log.Printf("[main] CARSHARE_REDIS_ADDR unset; using in-process booking locks")
	}

	var publisher booking.Publisher = infra.DiscardPublisher{}
	if cfg.AMQP.URL != "" {
		mq, err := infra.NewRabbitMQ(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatalf("rabbitmq init: %v", err)
		}
		defer mq.Close()
		publisher = mq
	}

	var places ride.Places
	if cfg.Maps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.Maps.APIKey, "es")
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		places = mapsClient
	}

	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, nil)
	if _, ok := gateway.(payment.NotConfiguredGateway); ok {
		log.Printf("[main] STRIPE_SECRET_KEY unset; payment operations will fail")
	}

	pricingSvc := pricing.NewService(config.CommissionPercent, pricing.PenaltyPolicy{
		FreeWindow:   cfg.Penalty.FreeWindow,
		LateFraction: cfg.Penalty.LateFraction,
	})

	rideSvc := ride.NewService(ride.NewStore(dbPool), geoIndex, places)
	paymentSvc := payment.NewService(payment.NewStore(dbPool), gateway)
	bookingSvc := booking.NewService(booking.Deps{
		Repo:      booking.NewStore(dbPool),
		Rides:     rideSvc,
		Accounts:  paymentSvc,
		Gateway:   gateway,
		Pricing:   pricingSvc,
		Locker:    locker,
		Publisher: publisher,
		LockTTL:   cfg.Booking.LockTTL,
	})

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Bookings: bookingSvc,
		Rides:    rideSvc,
		Payments: paymentSvc,
		Verifier: verifier,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 10 * time.Second}

	go bookingSvc.RunReconciler(ctx, cfg.Booking.ReconcileEvery, cfg.Booking.ReconcileGrace)
	go bookingSvc.RunCompletionTicker(ctx, cfg.Booking.CompleteEvery, cfg.Booking.CompleteAfter)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[main] shutdown: %v", err)
		}
	}()

	log.Printf("[main] listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// newVerifier prefers Firebase when a project is configured and falls back
// to locally signed JWTs.
func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	if cfg.Firebase.ProjectID != "" {
		return infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	}
	return infra.NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
}
