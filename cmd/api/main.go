package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"streamvault/internal/auth"
	"streamvault/internal/billing"
	"streamvault/internal/catalog"
	"streamvault/internal/db"
	"streamvault/internal/featured"
	"streamvault/internal/session"
	pkgauth "streamvault/pkg/auth"
	pkgdb "streamvault/pkg/db"
	"streamvault/pkg/logger"
)

type config struct {
	Port        string
	AppSecret   string
	AdminEmail  string
	AdminPass   string
	LogLevel    string
	ScyllaHosts []string
	ScyllaPort  int
	Keyspace    string
	Consistency string
	Replication int
	RedisAddr   string
	RedisPass   string
	PostgresURL string
	StripeURL   string
	RazorpayURL string
	TrialDays   int
	ReturnToken string
	TrialPlan   string
}

var buildVersion = envDefault("BUILD_VERSION", "dev")

func loadConfig() (config, error) {
	hosts := strings.Split(os.Getenv("SCYLLA_HOSTS"), ",")
	for i := range hosts {
		hosts[i] = strings.TrimSpace(hosts[i])
	}
	cfg := config{
		Port:        envDefault("API_PORT", envDefault("PORT", "8080")),
		AppSecret:   os.Getenv("APP_SECRET"),
		AdminEmail:  os.Getenv("ADMIN_EMAIL"),
		AdminPass:   os.Getenv("ADMIN_PASSWORD"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),
		ScyllaHosts: hosts,
		ScyllaPort:  envDefaultInt("SCYLLA_PORT", 9042),
		Keyspace:    envDefault("SCYLLA_KEYSPACE", "streamvault"),
		Consistency: envDefault("SCYLLA_CONSISTENCY", "QUORUM"),
		Replication: envDefaultInt("SCYLLA_RF", 3),
		RedisAddr:   envDefault("REDIS_ADDR", "localhost:6379"),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		PostgresURL: os.Getenv("DATABASE_URL"),
		StripeURL:   os.Getenv("STRIPE_CHECKOUT_URL"),
		RazorpayURL: os.Getenv("RAZORPAY_CHECKOUT_URL"),
		TrialDays:   envDefaultInt("TRIAL_DAYS", 7),
		ReturnToken: os.Getenv("PAYMENT_RETURN_TOKEN"),
		TrialPlan:   envDefault("TRIAL_PLAN", "basic"),
	}
	if cfg.AppSecret == "" {
		return cfg, fmt.Errorf("APP_SECRET is required")
	}
	if len(cfg.ScyllaHosts) == 0 || cfg.ScyllaHosts[0] == "" {
		return cfg, fmt.Errorf("SCYLLA_HOSTS is required")
	}
	if cfg.PostgresURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel).With().Str("version", buildVersion).Logger()

	var scylla *gocql.Session
	for i := 0; i < 20; i++ {
		s, err := connectScylla(cfg, log)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("scylla connect retry")
			time.Sleep(5 * time.Second)
			continue
		}
		if err := db.EnsureSchema(s, cfg.Keyspace); err != nil {
			s.Close()
			log.Warn().Err(err).Int("attempt", i+1).Msg("ensure schema retry")
			time.Sleep(5 * time.Second)
			continue
		}
		if cfg.AdminEmail != "" && cfg.AdminPass != "" {
			if err := db.EnsureAdmin(context.Background(), s, cfg.Keyspace, cfg.AdminEmail, cfg.AdminPass); err != nil {
				s.Close()
				log.Warn().Err(err).Int("attempt", i+1).Msg("ensure admin retry")
				time.Sleep(5 * time.Second)
				continue
			}
		}
		scylla = s
		break
	}
	if scylla == nil {
		log.Fatal().Msg("scylla not ready after retries")
	}
	defer scylla.Close()

	ctx := context.Background()
	pool, err := pkgdb.Connect(ctx, cfg.PostgresURL, int32(envDefaultInt("PG_MAX_CONNS", 10)))
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	if err := billing.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("billing schema failed")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Session reads fail open, so the API can come up while the
		// session store recovers; guards degrade to polling errors.
		log.Warn().Err(err).Msg("redis unreachable at startup")
	}
	defer rdb.Close()

	authSvc := auth.NewService(cfg.AppSecret)
	catalogSvc := catalog.NewService(scylla, cfg.Keyspace)
	featuredSvc := featured.NewService(catalogSvc, featured.LoadConfigFromEnv())
	sessions := session.NewRedisStore(rdb, log)
	providers := map[string]string{}
	if cfg.StripeURL != "" {
		providers["stripe"] = cfg.StripeURL
	}
	if cfg.RazorpayURL != "" {
		providers["razorpay"] = cfg.RazorpayURL
	}
	billingSvc := billing.NewService(pool, providers, cfg.TrialDays)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/auth/login", handleLogin(scylla, authSvc, sessions, billingSvc, cfg, log))
	r.Post("/auth/refresh", handleRefresh(authSvc))
	r.With(authSvc.RequireAuth).Post("/auth/change-password", handleChangePassword(scylla, cfg.Keyspace, authSvc))
	r.With(authSvc.RequireAuth).Post("/auth/logout", handleLogout(sessions, log))

	r.Route("/users", func(r chi.Router) {
		r.Use(authSvc.RequireRole("admin"))
		r.Post("/", handleCreateUser(scylla, cfg.Keyspace))
		r.Get("/", handleListUsers(scylla, cfg.Keyspace))
		r.Put("/{id}", handleUpdateUser(scylla, cfg.Keyspace))
		r.Post("/{id}/password", handleResetPassword(scylla, cfg.Keyspace))
	})

	r.Route("/catalog", func(r chi.Router) {
		r.Use(authSvc.RequireAuth, requireEntitled(billingSvc, log))
		r.Get("/", handleListTitles(catalogSvc))
		r.Get("/featured", handleFeatured(featuredSvc))
		r.Get("/{id}", handleGetTitle(catalogSvc))
	})

	r.With(authSvc.RequireAuth).Put("/progress", handleUpdateProgress(catalogSvc))
	r.With(authSvc.RequireAuth).Get("/progress/{id}", handleGetProgress(catalogSvc))

	r.With(authSvc.RequireAuth).Get("/session/device", handleGetDevice(sessions))
	r.With(authSvc.RequireAuth).Delete("/session/device", handleReleaseDevice(sessions))

	r.Route("/billing", func(r chi.Router) {
		r.Use(authSvc.RequireAuth)
		r.Get("/subscription", handleGetSubscription(billingSvc))
		r.Post("/checkout", handleCreateCheckout(billingSvc))
		r.Post("/cancel", handleCancelSubscription(billingSvc))
	})
	r.With(pkgauth.TokenMiddleware(cfg.ReturnToken)).Post("/billing/checkout/{ref}/complete", handleCompleteCheckout(billingSvc))

	r.Route("/admin", func(r chi.Router) {
		r.Use(authSvc.RequireRole("admin"))
		r.Get("/titles", handleListTitles(catalogSvc))
		r.Post("/titles", handleCreateTitle(catalogSvc))
		r.Delete("/titles/{id}", handleDeleteTitle(catalogSvc))
	})

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("api listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func connectScylla(cfg config, log zerolog.Logger) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Port = cfg.ScyllaPort
	cluster.Timeout = 5 * time.Second
	cluster.Consistency = parseConsistency(cfg.Consistency)

	tmpSession, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	defer tmpSession.Close()

	created := false
	for i := 0; i < 10; i++ {
		if err := db.EnsureKeyspace(tmpSession, cfg.Keyspace, cfg.Replication); err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("ensure keyspace retry")
			time.Sleep(3 * time.Second)
			continue
		}
		created = true
		break
	}
	if !created {
		return nil, fmt.Errorf("unable to ensure keyspace %s", cfg.Keyspace)
	}

	cluster.Keyspace = cfg.Keyspace
	return cluster.CreateSession()
}

func parseConsistency(name string) gocql.Consistency {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}

func envDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func envDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requireEntitled gates streaming surfaces behind an active or trialing
// subscription. Admins pass through.
func requireEntitled(billingSvc *billing.Service, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := auth.ClaimsFromContext(r.Context())
			if claims == nil {
				errorJSON(w, http.StatusUnauthorized, "missing token")
				return
			}
			if claims.Role == "admin" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := billingSvc.Entitled(r.Context(), claims.UserID)
			if err != nil {
				log.Error().Err(err).Str("user", claims.UserID).Msg("entitlement check failed")
				errorJSON(w, http.StatusInternalServerError, "entitlement check failed")
				return
			}
			if !ok {
				errorJSON(w, http.StatusPaymentRequired, "subscription required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleLogin(scylla *gocql.Session, authSvc *auth.Service, sessions session.Store, billingSvc *billing.Service, cfg config, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			DeviceID string `json:"device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		user, err := db.Authenticate(r.Context(), scylla, cfg.Keyspace, req.Email, req.Password)
		if err != nil {
			errorJSON(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		access, refresh, err := authSvc.GenerateTokens(user.ID, user.Role, user.MustChangePassword)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "token error")
			return
		}
		// The login-time claim: this device becomes the authorized one,
		// and every other device self-evicts once it observes the new
		// value. A failed write is transient and must not block login.
		if req.DeviceID != "" {
			if err := session.Claim(r.Context(), sessions, user.ID, req.DeviceID); err != nil {
				log.Warn().Err(err).Str("user", user.ID).Msg("device claim failed")
			}
		}
		if user.Role != "admin" {
			if _, err := billingSvc.StartTrial(r.Context(), user.ID, cfg.TrialPlan); err != nil {
				log.Warn().Err(err).Str("user", user.ID).Msg("trial bootstrap failed")
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"must_change":   user.MustChangePassword,
			"device_id":     req.DeviceID,
		})
	}
}

func handleRefresh(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		access, refresh, err := authSvc.Refresh(req.RefreshToken)
		if err != nil {
			errorJSON(w, http.StatusUnauthorized, "invalid token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
		})
	}
}

func handleChangePassword(scylla *gocql.Session, keyspace string, authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		var req struct {
			Old string `json:"old_password"`
			New string `json:"new_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if len(req.New) < 8 {
			errorJSON(w, http.StatusBadRequest, "password too short")
			return
		}
		if err := db.ChangePassword(r.Context(), scylla, keyspace, claims.UserID, req.Old, req.New); err != nil {
			errorJSON(w, http.StatusBadRequest, "password change failed")
			return
		}
		access, refresh, err := authSvc.GenerateTokens(claims.UserID, claims.Role, false)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "token error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
		})
	}
}

func handleLogout(sessions session.Store, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if err := session.Release(r.Context(), sessions, claims.UserID); err != nil {
			log.Warn().Err(err).Str("user", claims.UserID).Msg("claim release failed")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
	}
}

func handleCreateUser(scylla *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.Email == "" || req.Password == "" {
			errorJSON(w, http.StatusBadRequest, "email and password required")
			return
		}
		role := req.Role
		if role == "" {
			role = "member"
		}
		if err := db.CreateUser(r.Context(), scylla, keyspace, req.Email, req.Username, req.Password, role, true); err != nil {
			errorJSON(w, http.StatusInternalServerError, "create failed")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
	}
}

func handleListUsers(scylla *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := db.ListUsers(r.Context(), scylla, keyspace)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]map[string]interface{}, 0, len(users))
		for _, u := range users {
			out = append(out, map[string]interface{}{
				"id":          u.ID,
				"email":       u.Email,
				"username":    u.Username,
				"role":        u.Role,
				"must_change": u.MustChangePassword,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpdateUser(scylla *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Email      string `json:"email"`
			Username   string `json:"username"`
			Role       string `json:"role"`
			MustChange bool   `json:"must_change"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := db.UpdateUser(r.Context(), scylla, keyspace, id, req.Email, req.Username, req.Role, req.MustChange); err != nil {
			errorJSON(w, http.StatusInternalServerError, "update failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleResetPassword(scylla *gocql.Session, keyspace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := db.UpdateUserPassword(r.Context(), scylla, keyspace, id, req.Password); err != nil {
			errorJSON(w, http.StatusInternalServerError, "reset failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleListTitles(catalogSvc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		titles, err := catalogSvc.List(r.Context(), r.URL.Query().Get("q"), limit)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, titles)
	}
}

func handleFeatured(featuredSvc *featured.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		items, pub, err := featuredSvc.ItemsForUser(r.Context(), claims.UserID, time.Now())
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, featured.ItemsResponse{Items: items, Config: pub})
	}
}

func handleGetTitle(catalogSvc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := catalogSvc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				errorJSON(w, http.StatusNotFound, "title not found")
				return
			}
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleCreateTitle(catalogSvc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.Title
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		t, err := catalogSvc.Create(r.Context(), req)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleDeleteTitle(catalogSvc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := catalogSvc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			errorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleUpdateProgress(catalogSvc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		var req struct {
			TitleID    string `json:"title_id"`
			PositionMs int64  `json:"position_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TitleID == "" {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := catalogSvc.UpdateProgress(r.Context(), claims.UserID, req.TitleID, req.PositionMs); err != nil {
			errorJSON(w, http.StatusInternalServerError, "progress update failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

func handleGetProgress(catalogSvc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		p, err := catalogSvc.Progress(r.Context(), claims.UserID, chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				errorJSON(w, http.StatusNotFound, "no progress")
				return
			}
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleGetDevice(sessions session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		rec, err := sessions.Get(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				errorJSON(w, http.StatusNotFound, "no registered device")
				return
			}
			errorJSON(w, http.StatusInternalServerError, "session read failed")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleReleaseDevice(sessions session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if err := session.Release(r.Context(), sessions, claims.UserID); err != nil {
			errorJSON(w, http.StatusInternalServerError, "session release failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
	}
}

func handleGetSubscription(billingSvc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		sub, err := billingSvc.Subscription(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, billing.ErrNoSubscription) {
				errorJSON(w, http.StatusNotFound, "no subscription")
				return
			}
			errorJSON(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleCreateCheckout(billingSvc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		var req struct {
			Plan     string `json:"plan"`
			Provider string `json:"provider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == "" {
			errorJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		co, err := billingSvc.CreateCheckout(r.Context(), claims.UserID, req.Plan, req.Provider)
		if err != nil {
			if errors.Is(err, billing.ErrUnknownProvider) {
				errorJSON(w, http.StatusBadRequest, "unknown provider")
				return
			}
			errorJSON(w, http.StatusInternalServerError, "checkout failed")
			return
		}
		writeJSON(w, http.StatusCreated, co)
	}
}

func handleCompleteCheckout(billingSvc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := billingSvc.CompleteCheckout(r.Context(), chi.URLParam(r, "ref"))
		if err != nil {
			if errors.Is(err, billing.ErrUnknownCheckout) {
				errorJSON(w, http.StatusNotFound, "unknown checkout")
				return
			}
			errorJSON(w, http.StatusInternalServerError, "completion failed")
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func handleCancelSubscription(billingSvc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if err := billingSvc.Cancel(r.Context(), claims.UserID); err != nil {
			if errors.Is(err, billing.ErrNoSubscription) {
				errorJSON(w, http.StatusNotFound, "no subscription")
				return
			}
			errorJSON(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
	}
}
