package app

import (
	"context"

	"github.com/abdulachik/crosspost/internal/broadcast"
	"github.com/abdulachik/crosspost/internal/config"
	"github.com/abdulachik/crosspost/internal/db"
	"github.com/abdulachik/crosspost/internal/media"
	"github.com/abdulachik/crosspost/internal/oauth"
	"github.com/abdulachik/crosspost/internal/preview"
	"github.com/abdulachik/crosspost/internal/publisher"
	"github.com/abdulachik/crosspost/internal/token"
)

// App is the main application container holding all dependencies.
type App struct {
	Config      *config.Config
	Store       *db.Store
	Publishers  map[string]publisher.Publisher
	Bluesky     *publisher.BlueskyPublisher
	OAuth       map[string]*oauth.Client
	Tokens      *token.Manager
	Coordinator *broadcast.Coordinator
}

// New creates a new application instance with all dependencies wired up.
// Platforms whose OAuth app is not configured are left out of the
// publisher set; posting to them fails target resolution, not startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Create database connection
	store, err := db.NewStore(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	previews := preview.New()
	oauthClients := make(map[string]*oauth.Client)
	publishers := make(map[string]publisher.Publisher)

	if cfg.LinkedInConfigured() {
		oauthClients["linkedin"] = oauth.New(oauth.Config{
			Endpoints: oauth.Endpoints{
				AuthURL:  publisher.LinkedInAuthURL,
				TokenURL: publisher.LinkedInTokenURL,
			},
			ClientID:     cfg.LinkedInClientID,
			ClientSecret: cfg.LinkedInClientSecret,
			RedirectURI:  cfg.LinkedInRedirectURI,
			Scopes:       []string{"openid", "profile", "w_member_social"},
		})
		publishers["linkedin"] = publisher.NewLinkedInPublisher(publisher.LinkedInConfig{
			OAuth:   oauthClients["linkedin"],
			Preview: previews,
		})
	}

	if cfg.MastodonConfigured() {
		oauthClients["mastodon"] = oauth.New(oauth.Config{
			Endpoints: oauth.Endpoints{
				AuthURL:  cfg.MastodonServer + "/oauth/authorize",
				TokenURL: cfg.MastodonServer + "/oauth/token",
			},
			ClientID:     cfg.MastodonClientID,
			ClientSecret: cfg.MastodonClientSecret,
			RedirectURI:  cfg.MastodonRedirectURI,
			Scopes:       []string{"read:accounts", "write:statuses", "write:media"},
		})
		publishers["mastodon"] = publisher.NewMastodonPublisher(publisher.MastodonConfig{
			Server: cfg.MastodonServer,
			OAuth:  oauthClients["mastodon"],
		})
	}

	// Bluesky needs no OAuth app; app-password connect is always available
	bluesky := publisher.NewBlueskyPublisher(publisher.BlueskyConfig{
		PDSURL:  cfg.BlueskyPDSURL,
		Preview: previews,
	})
	publishers["bluesky"] = bluesky

	clients := make(map[string]token.PlatformClient, len(publishers))
	for name, p := range publishers {
		clients[name] = p
	}
	tokens := token.New(token.Config{Store: store, Clients: clients})

	coordinator := broadcast.New(broadcast.Config{
		Store:      store,
		Tokens:     tokens,
		Publishers: publishers,
		Media:      media.NewResolver(cfg.MediaDir),
	})

	return &App{
		Config:      cfg,
		Store:       store,
		Publishers:  publishers,
		Bluesky:     bluesky,
		OAuth:       oauthClients,
		Tokens:      tokens,
		Coordinator: coordinator,
	}, nil
}

// Close closes all resources.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
