package router

import (
	"context"
	"fmt"
	"time"

	"signoff/internal/approvals"
	"signoff/internal/cache"
	"signoff/internal/chatops"
	"signoff/internal/cli"
	"signoff/internal/common"
	"signoff/internal/credentials"
	"signoff/internal/engine"
	"signoff/internal/executors"
	"signoff/internal/queue"
	"signoff/internal/router"
	"signoff/internal/signature"
	"signoff/internal/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	flags.AddToCommand(Command)
}

var flags cli.Flags = routerFlags.Append(redisFlags).Append(natsFlags)

var routerFlags cli.Flags = cli.Flags{
	{
		Name:         "listen-addr",
		DefaultValue: "0.0.0.0:9090",
		Usage:        "defines the address which the webhook ingress listens on",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "signing-secret",
		DefaultValue: "",
		Usage:        "defines the secret used to verify webhook signatures",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "replay-window",
		DefaultValue: signature.DefaultReplayWindow,
		Usage:        "defines the maximum tolerated age of a webhook timestamp in either direction",
		Type:         cli.FlagTypeDuration,
	},
	{
		Name:         "store-url",
		DefaultValue: "",
		Usage:        "defines the url of the installation/approval store, leave empty to run on in-process storage",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "store-token",
		DefaultValue: "",
		Usage:        "defines the bearer token used to authenticate with the store",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "credentials-ttl",
		DefaultValue: credentials.DefaultTtl,
		Usage:        "defines how long resolved tenant credentials are cached",
		Type:         cli.FlagTypeDuration,
	},
	{
		Name:         "fallback-tenant-id",
		DefaultValue: "",
		Usage:        "defines the tenant id of the fallback credential for single-tenant deployments",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "fallback-bot-token",
		DefaultValue: "",
		Usage:        "defines the bot token of the fallback credential for single-tenant deployments",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "fallback-bot-user-id",
		DefaultValue: "",
		Usage:        "defines the bot user id of the fallback credential for single-tenant deployments",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "sweep-interval",
		DefaultValue: engine.DefaultSweepInterval,
		Usage:        "defines how often due approvals are expired",
		Type:         cli.FlagTypeDuration,
	},
	{
		Name:         "rate-limit",
		DefaultValue: router.DefaultRateLimit,
		Usage:        "defines the number of webhook requests allowed per tenant per window",
		Type:         cli.FlagTypeInteger,
	},
	{
		Name:         "rate-limit-window",
		DefaultValue: router.DefaultRateLimitWindow,
		Usage:        "defines the length of the per-tenant rate limit window",
		Type:         cli.FlagTypeDuration,
	},
	{
		Name:         "executor-config",
		DefaultValue: "",
		Usage:        "defines the path to the yaml file mapping approval types to executor endpoints",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "executor-token",
		DefaultValue: "",
		Usage:        "defines the bearer token sent to executor endpoints",
		Type:         cli.FlagTypeString,
	},
}

var redisFlags cli.Flags = cli.Flags{
	{
		Name:         "redis-enabled",
		DefaultValue: false,
		Usage:        "when this flag is specified, redis backs the event deduplication cache",
		Type:         cli.FlagTypeBool,
	},
	{
		Name:         "redis-addr",
		DefaultValue: "localhost:6379",
		Usage:        "defines the hostname (including port) of the redis server",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "redis-username",
		DefaultValue: "signoff",
		Usage:        "defines the username used to login to redis",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "redis-password",
		DefaultValue: "password",
		Usage:        "defines the password used to login to redis",
		Type:         cli.FlagTypeString,
	},
}

var natsFlags cli.Flags = cli.Flags{
	{
		Name:         "nats-enabled",
		DefaultValue: false,
		Usage:        "when this flag is specified, nats backs the mention/dm queue",
		Type:         cli.FlagTypeBool,
	},
	{
		Name:         "nats-addr",
		DefaultValue: "localhost:4222",
		Usage:        "defines the hostname (including port) of the nats server",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "nats-username",
		DefaultValue: "",
		Usage:        "defines the username used to login to nats",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "nats-password",
		DefaultValue: "",
		Usage:        "defines the password used to login to nats",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "nats-nkey-value",
		DefaultValue: "",
		Usage:        "defines the nkey seed used to login to nats, takes precedence over user/password",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "queue-stream",
		DefaultValue: "signoff",
		Usage:        "defines the stream which queued events are pushed to",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "queue-subject",
		DefaultValue: "events",
		Usage:        "defines the subject which queued events are pushed to",
		Type:         cli.FlagTypeString,
	},
}

var Command = &cobra.Command{
	Use:     "router",
	Aliases: []string{"r"},
	Short:   "Starts the webhook router",
	Long:    "Starts the webhook router which verifies, classifies, and dispatches inbound chat platform events",
	PreRun: func(cmd *cobra.Command, args []string) {
		flags.BindViper(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		serviceLogs := make(chan common.ServiceLog, 64)
		common.StartServiceLogLoop(serviceLogs)

		signingSecret := viper.GetString("signing-secret")
		if signingSecret == "" {
			return fmt.Errorf("failed to receive a signing secret")
		}
		verifier := signature.NewVerifier(signingSecret)
		verifier.ReplayWindow = viper.GetDuration("replay-window")

		var approvalStore store.Store
		storeUrl := viper.GetString("store-url")
		if storeUrl != "" {
			var bearerAuth *store.NewClientBearerAuthOpts
			if storeToken := viper.GetString("store-token"); storeToken != "" {
				bearerAuth = &store.NewClientBearerAuthOpts{Token: storeToken}
			}
			storeClient, err := store.NewClient(store.NewClientOpts{
				StoreUrl:   storeUrl,
				BearerAuth: bearerAuth,
				Id:         "signoff-router",
			})
			if err != nil {
				return fmt.Errorf("failed to create store client: %s", err)
			}
			approvalStore = storeClient
			logrus.Infof("using store at url[%s]", storeUrl)
		} else {
			logrus.Warn("no store-url specified, approvals will not survive a restart")
			approvalStore = store.NewMemory()
		}

		var fallbackCredential *credentials.Credential
		if fallbackBotToken := viper.GetString("fallback-bot-token"); fallbackBotToken != "" {
			fallbackCredential = &credentials.Credential{
				TenantId:  viper.GetString("fallback-tenant-id"),
				BotToken:  fallbackBotToken,
				BotUserId: viper.GetString("fallback-bot-user-id"),
			}
			logrus.Infof("fallback credential enabled for tenant[%s]", fallbackCredential.TenantId)
		}
		credentialsResolver := credentials.NewResolver(credentials.NewResolverOpts{
			Source:      approvalStore,
			Fallback:    fallbackCredential,
			Ttl:         viper.GetDuration("credentials-ttl"),
			ServiceLogs: serviceLogs,
		})

		approvalsEngine := engine.NewEngine(engine.NewEngineOpts{
			Store:       approvalStore,
			ServiceLogs: serviceLogs,
		})

		var dedupeCache common.Cache
		if viper.GetBool("redis-enabled") {
			redisCache, err := cache.NewRedis(cache.NewRedisOpts{
				Addr:        viper.GetString("redis-addr"),
				Username:    viper.GetString("redis-username"),
				Password:    viper.GetString("redis-password"),
				ServiceLogs: serviceLogs,
			})
			if err != nil {
				return fmt.Errorf("failed to create redis cache: %s", err)
			}
			dedupeCache = redisCache
			logrus.Infof("redis client initialised")
		} else {
			dedupeCache = cache.NewMemory()
		}

		var eventQueue queue.Queue
		if viper.GetBool("nats-enabled") {
			natsQueue, err := queue.NewNats(queue.NewNatsOpts{
				Addr:        viper.GetString("nats-addr"),
				Username:    viper.GetString("nats-username"),
				Password:    viper.GetString("nats-password"),
				NKey:        viper.GetString("nats-nkey-value"),
				ServiceLogs: serviceLogs,
			})
			if err != nil {
				return fmt.Errorf("failed to create nats queue: %s", err)
			}
			if err := natsQueue.Connect(); err != nil {
				return fmt.Errorf("failed to connect to nats: %s", err)
			}
			defer natsQueue.Close()
			eventQueue = natsQueue
			logrus.Infof("nats client initialised")
		} else {
			logrus.Warn("no nats-enabled flag specified, queued events will not survive a restart")
			eventQueue = queue.NewMemory()
		}

		executorRegistry := executors.NewRegistry()
		if executorConfigPath := viper.GetString("executor-config"); executorConfigPath != "" {
			var executorToken *string
			if token := viper.GetString("executor-token"); token != "" {
				executorToken = &token
			}
			loadedRegistry, err := executors.LoadEndpointConfig(executorConfigPath, executorToken)
			if err != nil {
				return fmt.Errorf("failed to load executor config: %s", err)
			}
			executorRegistry = loadedRegistry
			logrus.Infof("executor endpoints loaded from path[%s]", executorConfigPath)
		} else {
			logrus.Warn("no executor-config specified, approve actions will be refused")
		}

		chatClientFactory := chatops.ClientFactory(chatops.NewSlackClient)

		// expired approvals get their posted notifications refreshed so
		// the buttons disappear
		sweeperContext, cancelSweeper := context.WithCancel(cmd.Context())
		defer cancelSweeper()
		approvalsEngine.StartSweeper(engine.StartSweeperOpts{
			Context:  sweeperContext,
			Interval: viper.GetDuration("sweep-interval"),
			Notify: func(expired approvals.Approval) {
				if expired.ChannelRef == "" || expired.MessageRef == "" {
					return
				}
				ctx, cancel := context.WithTimeout(sweeperContext, 10*time.Second)
				defer cancel()
				credential, err := credentialsResolver.Resolve(ctx, expired.TenantId, "")
				if err != nil {
					serviceLogs <- common.ServiceLogf(common.LogLevelError, "failed to resolve credentials for expired approval[%s]: %s", expired.Id, err)
					return
				}
				chatClient := chatClientFactory(credential)
				if err := chatClient.UpdateMessage(ctx, expired.ChannelRef, expired.MessageRef, chatops.Message{Approval: &expired}); err != nil {
					serviceLogs <- common.ServiceLogf(common.LogLevelError, "failed to update notification for expired approval[%s]: %s", expired.Id, err)
				}
			},
		})

		webhookRouter := router.NewRouter(router.NewRouterOpts{
			Cache:             dedupeCache,
			ChatClientFactory: chatClientFactory,
			Credentials:       credentialsResolver,
			Engine:            approvalsEngine,
			Executors:         executorRegistry,
			Queue:             eventQueue,
			QueueOpts: queue.QueueOpts{
				Stream:  viper.GetString("queue-stream"),
				Subject: viper.GetString("queue-subject"),
			},
			RateLimiter: router.NewRateLimiter(router.NewRateLimiterOpts{
				Limit:  viper.GetInt("rate-limit"),
				Window: viper.GetDuration("rate-limit-window"),
			}),
			ServiceLogs: serviceLogs,
			Verifier:    verifier,
		})

		readinessChecks := []func() error{
			dedupeCache.Ping,
			eventQueue.Ping,
		}
		if pingableStore, ok := approvalStore.(interface{ Ping(context.Context) error }); ok {
			readinessChecks = append(readinessChecks, func() error {
				ctx, cancel := context.WithTimeout(cmd.Context(), common.DefaultDurationConnectionTimeout)
				defer cancel()
				return pingableStore.Ping(ctx)
			})
		}

		muxRouter := mux.NewRouter()
		muxRouter.NotFoundHandler = common.GetNotFoundHandler()
		common.RegisterCommonHttpEndpoints(common.CommonHttpEndpointsOpts{
			Router:          muxRouter,
			ServiceLogs:     serviceLogs,
			ReadinessChecks: readinessChecks,
		})
		webhookRouter.RegisterRoutes(muxRouter)

		httpServerDone := make(chan common.Done)
		server, err := common.NewHttpServer(common.NewHttpServerOpts{
			Addr:        viper.GetString("listen-addr"),
			Done:        httpServerDone,
			Handler:     muxRouter,
			ServiceLogs: serviceLogs,
		})
		if err != nil {
			return fmt.Errorf("failed to create http server: %s", err)
		}
		logrus.Infof("starting webhook router on addr[%s]...", viper.GetString("listen-addr"))
		return server.Start()
	},
}
