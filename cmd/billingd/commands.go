package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/api"
	audithook "github.com/BitCodeHub/stackaudit-ai-sub001/audit_hook"
	"github.com/BitCodeHub/stackaudit-ai-sub001/cache/lrucache"
	"github.com/BitCodeHub/stackaudit-ai-sub001/cache/rediscache"
	"github.com/BitCodeHub/stackaudit-ai-sub001/observability"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider/stripe"
	"github.com/BitCodeHub/stackaudit-ai-sub001/subscription"
)

// Headers read when trust_identity_headers is set. Only enable it behind a
// proxy that authenticates callers and strips these from client requests.
const (
	headerAccountID = "X-Account-Id"
	headerPlan      = "X-Account-Plan"
	headerEmail     = "X-Account-Email"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:           "billingd",
		Short:         "Plan metering and entitlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the billing API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	serve.Flags().String("addr", "", "listen address")
	_ = v.BindPFlag("addr", serve.Flags().Lookup("addr"))

	plans := &cobra.Command{
		Use:   "plans",
		Short: "Print the plan catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan.Default(cfg.priceIDs()).Pricing())
		},
	}

	root.AddCommand(serve, plans)
	return root
}

func runServe(ctx context.Context, cfg *config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	logger := cfg.logger()

	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	cache, closeCache, err := newSubscriptionCache(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer closeCache()

	metrics, err := observability.NewMetricsExtension(prometheus.DefaultRegisterer, "")
	if err != nil {
		_ = st.Close()
		return err
	}

	eng := billing.New(st, stripe.New(cfg.StripeSecretKey),
		billing.WithLogger(logger),
		billing.WithCatalog(plan.Default(cfg.priceIDs())),
		billing.WithVerifier(stripe.NewVerifier(cfg.StripeWebhookSecret)),
		billing.WithSubscriptionCache(cache),
		billing.WithSubscriptionCacheTTL(cfg.SubscriptionCacheTTL),
		billing.WithSweepSchedule(cfg.SweepSchedule),
		billing.WithAppURL(cfg.AppURL),
		billing.WithUpgradeURL(cfg.UpgradeURL),
		billing.WithPlugin(metrics),
		billing.WithPlugin(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))),
	)
	if err := eng.Start(ctx); err != nil {
		_ = st.Close()
		return err
	}

	var apiOpts []api.Option
	if cfg.TrustIdentityHeaders {
		apiOpts = append(apiOpts, api.WithIdentityResolver(headerIdentity))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(eng, apiOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("billingd listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown", "error", shutdownErr)
	}
	if stopErr := eng.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("engine stop", "error", stopErr)
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newRouter(eng *billing.Engine, opts ...api.Option) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Store().Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/billing", api.New(eng, opts...).Routes())
	return r
}

// newSubscriptionCache returns the shared Redis cache when redis_url is
// set and an in-process LRU otherwise.
func newSubscriptionCache(ctx context.Context, cfg *config) (subscription.Cache, func(), error) {
	if cfg.RedisURL == "" {
		return lrucache.New(cfg.CacheSize), func() {}, nil
	}
	c, err := rediscache.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func headerIdentity(r *http.Request) (billing.Identity, bool) {
	id := billing.Identity{
		AccountID: r.Header.Get(headerAccountID),
		Plan:      plan.ID(r.Header.Get(headerPlan)),
		Email:     r.Header.Get(headerEmail),
	}
	return id, id.AccountID != ""
}
