package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"signoff/internal/approvals"
	"signoff/internal/chatops"
	"signoff/internal/cli"
	"signoff/internal/common"
	"signoff/internal/credentials"
	"signoff/internal/engine"
	"signoff/internal/queue"
	"signoff/internal/router"
	"signoff/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	flags.AddToCommand(Command)
}

var flags cli.Flags = cli.Flags{
	{
		Name:         "store-url",
		DefaultValue: "",
		Usage:        "defines the url of the installation/approval store",
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
		Name:         "consumer-id",
		DefaultValue: "",
		Usage:        "defines the queue consumer id, a random one is generated when left empty",
		Type:         cli.FlagTypeString,
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
		Usage:        "defines the stream which queued events are consumed from",
		Type:         cli.FlagTypeString,
	},
	{
		Name:         "queue-subject",
		DefaultValue: "events",
		Usage:        "defines the subject which queued events are consumed from",
		Type:         cli.FlagTypeString,
	},
}

var Command = &cobra.Command{
	Use:     "responder",
	Aliases: []string{"re"},
	Short:   "Starts the responder worker",
	Long:    "Starts the responder worker which consumes queued mentions and direct messages and replies with the tenant's pending approvals",
	PreRun: func(cmd *cobra.Command, args []string) {
		flags.BindViper(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		serviceLogs := make(chan common.ServiceLog, 64)
		common.StartServiceLogLoop(serviceLogs)

		storeUrl := viper.GetString("store-url")
		if storeUrl == "" {
			return fmt.Errorf("failed to receive a store url")
		}
		var bearerAuth *store.NewClientBearerAuthOpts
		if storeToken := viper.GetString("store-token"); storeToken != "" {
			bearerAuth = &store.NewClientBearerAuthOpts{Token: storeToken}
		}
		storeClient, err := store.NewClient(store.NewClientOpts{
			StoreUrl:   storeUrl,
			BearerAuth: bearerAuth,
			Id:         "signoff-responder",
		})
		if err != nil {
			return fmt.Errorf("failed to create store client: %s", err)
		}

		credentialsResolver := credentials.NewResolver(credentials.NewResolverOpts{
			Source:      storeClient,
			Ttl:         viper.GetDuration("credentials-ttl"),
			ServiceLogs: serviceLogs,
		})
		approvalsEngine := engine.NewEngine(engine.NewEngineOpts{
			Store:       storeClient,
			ServiceLogs: serviceLogs,
		})
		chatClientFactory := chatops.ClientFactory(chatops.NewSlackClient)

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
		logrus.Infof("nats client initialised")

		consumerId := viper.GetString("consumer-id")
		if consumerId == "" {
			randomSuffix, err := common.GenerateRandomString(8)
			if err != nil {
				return fmt.Errorf("failed to generate a consumer id: %s", err)
			}
			consumerId = "responder-" + randomSuffix
		}
		logrus.Infof("starting responder with consumer id[%s]...", consumerId)

		return natsQueue.Subscribe(queue.SubscribeOpts{
			ConsumerId: consumerId,
			Context:    cmd.Context(),
			Handler: getQueuedEventHandler(queuedEventHandlerOpts{
				ChatClientFactory: chatClientFactory,
				Credentials:       credentialsResolver,
				Engine:            approvalsEngine,
				ServiceLogs:       serviceLogs,
			}),
			Queue: queue.QueueOpts{
				Stream:  viper.GetString("queue-stream"),
				Subject: viper.GetString("queue-subject"),
			},
		})
	},
}

type queuedEventHandlerOpts struct {
	ChatClientFactory chatops.ClientFactory
	Credentials       *credentials.Resolver
	Engine            *engine.Engine
	ServiceLogs       chan<- common.ServiceLog
}

func getQueuedEventHandler(opts queuedEventHandlerOpts) queue.MessageHandler {
	return func(ctx context.Context, message queue.Message) error {
		var event router.QueuedEvent
		if err := json.Unmarshal(message.Data, &event); err != nil {
			// a malformed message never becomes parseable, log and drop
			opts.ServiceLogs <- common.ServiceLogf(common.LogLevelError, "failed to parse queued event: %s", err)
			return nil
		}
		opts.ServiceLogs <- common.ServiceLogf(common.LogLevelInfo, "handling %s from tenant[%s] in channel[%s]", event.Kind, event.TenantId, event.ChannelRef)

		credential, err := opts.Credentials.Resolve(ctx, event.TenantId, event.EnterpriseId)
		if err != nil {
			return fmt.Errorf("failed to resolve credentials for tenant[%s]: %w", event.TenantId, err)
		}
		chatClient := opts.ChatClientFactory(credential)

		pending, err := opts.Engine.List(ctx, approvals.StatusPending)
		if err != nil {
			return fmt.Errorf("failed to list pending approvals: %w", err)
		}
		var tenantPending []approvals.Approval
		for _, approval := range pending {
			if approval.TenantId == event.TenantId {
				tenantPending = append(tenantPending, approval)
			}
		}

		replyText := getPendingSummaryText(event.UserRef, tenantPending)
		if _, err := chatClient.PostMessage(ctx, event.ChannelRef, chatops.Message{Text: replyText}); err != nil {
			return fmt.Errorf("failed to post reply: %w", err)
		}
		return nil
	}
}

func getPendingSummaryText(userRef string, pending []approvals.Approval) string {
	if len(pending) == 0 {
		return fmt.Sprintf("<@%s> there are no pending approval requests.", userRef)
	}
	var summary strings.Builder
	fmt.Fprintf(&summary, "<@%s> there are %v pending approval request(s):\n", userRef, len(pending))
	for _, approval := range pending {
		fmt.Fprintf(&summary, "• `%s` [%s] %s\n", approval.Id, approval.Type, approval.Title)
	}
	return summary.String()
}
