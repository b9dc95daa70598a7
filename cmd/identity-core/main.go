package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/chi-demo/app"
	"github.com/uniauth/identity-core/pkg/cascade"
	"github.com/uniauth/identity-core/pkg/config"
	"github.com/uniauth/identity-core/pkg/identity"
	usersapi "github.com/uniauth/identity-core/pkg/identity/api"
	"github.com/uniauth/identity-core/pkg/idmapping"
	mappingapi "github.com/uniauth/identity-core/pkg/idmapping/api"
	"github.com/uniauth/identity-core/pkg/linking"
	linkingapi "github.com/uniauth/identity-core/pkg/linking/api"
	"github.com/uniauth/identity-core/pkg/pagination"
	"github.com/uniauth/identity-core/pkg/tenant"
)

type Config struct {
	DbConfig       config.DatabaseConfig
	TopologyConfig config.TopologyConfig
	AppConfig      app.AppConfig
}

func main() {

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	assignments, err := cfg.TopologyConfig.ParseAssignments()
	if err != nil {
		slog.Error("Failed parsing tenant topology", "error", err)
		os.Exit(-1)
	}
	registry := tenant.NewRegistry(tenant.NewTopology(assignments))

	// one storage connection per user pool
	pools := make(map[tenant.PoolID]identity.Repository)
	var defaultPool *pgxpool.Pool
	for _, poolID := range distinctPools(assignments) {
		pgPool, err := pgxpool.New(context.Background(), config.PoolDatabaseURL(poolID))
		if err != nil {
			slog.Error("Failed creating dbpool", "pool", poolID, "error", err)
			os.Exit(-1)
		}
		pools[poolID] = identity.NewPostgresIdentityRepository(pgPool)
		if defaultPool == nil || poolID == tenant.PoolID(cfg.TopologyConfig.DefaultPool) {
			defaultPool = pgPool
		}
	}

	router := identity.NewRouter(registry, pools)

	mappingService := idmapping.NewMappingService(idmapping.NewPostgresMappingRepository(defaultPool), router)
	linkingService := linking.NewLinkingService(router, registry)
	paginationService := pagination.NewPaginationService(router).WithExternalizer(mappingService)
	cascadeService := cascade.NewCascadeService(router, mappingService)

	usersHandler := usersapi.NewHandler(router, paginationService, cascadeService, mappingService)
	linkingHandler := linkingapi.NewHandler(linkingService)
	mappingsHandler := mappingapi.NewHandler(mappingService)

	prefixes := config.LoadPrefixConfig()
	if err := prefixes.Validate(); err != nil {
		slog.Error("Invalid API prefix configuration", "error", err)
		os.Exit(-1)
	}

	server.R.Route(prefixes.Users, func(r chi.Router) {
		usersHandler.RegisterRoutes(r)
	})
	server.R.Route(prefixes.Linking, func(r chi.Router) {
		linkingHandler.RegisterRoutes(r)
	})
	server.R.Route(prefixes.Mappings, func(r chi.Router) {
		mappingsHandler.RegisterRoutes(r)
	})

	slog.Info("Identity core ready", "pools", len(pools))
	server.Run()

}

func distinctPools(assignments map[tenant.TenantIdentifier]tenant.PoolID) []tenant.PoolID {
	seen := make(map[tenant.PoolID]bool)
	var ids []tenant.PoolID
	for _, pool := range assignments {
		if !seen[pool] {
			seen[pool] = true
			ids = append(ids, pool)
		}
	}
	return ids
}
