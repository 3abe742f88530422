package inject

import (
	"github.com/spf13/cobra"
)

func NewInjectCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Inject an externally observed message into a running gateway",
		Args:  cobra.NoArgs,
		Example: `  openclaw inject --chat-id -5001 --message-id 10 --sender-name Alice --text "hello"
  openclaw inject --account work --chat-id -1001234 --thread-id 7 --sender-name Bob
  OPENCLAW_BRIDGE_TOKEN=s3cret openclaw inject --chat-id 42 --sender-name Carol`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				opts.token = tokenFromEnv()
			}
			return injectCmd(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "",
		"Gateway base URL (default: http://<gateway.host>:<gateway.port>)")
	cmd.Flags().StringVar(&opts.token, "token", "",
		"Bridge secret (default: $"+TokenEnv+")")
	cmd.Flags().StringVar(&opts.accountID, "account", "",
		"Target account id (default: default)")
	cmd.Flags().Int64Var(&opts.chatID, "chat-id", 0,
		"Chat id; negative ids are groups")
	cmd.Flags().IntVar(&opts.messageID, "message-id", 1,
		"Message id of the observed message")
	cmd.Flags().StringVar(&opts.senderName, "sender-name", "",
		"Display name of the sender")
	cmd.Flags().StringVar(&opts.senderUsername, "sender-username", "",
		"Username of the sender")
	cmd.Flags().Int64Var(&opts.senderID, "sender-id", 0,
		"User id of the sender")
	cmd.Flags().StringVar(&opts.text, "text", "",
		"Message text; omit for interactive mode")
	cmd.Flags().IntVar(&opts.replyTo, "reply-to", 0,
		"Message id being replied to")
	cmd.Flags().IntVar(&opts.threadID, "thread-id", 0,
		"Forum topic id")
	cmd.Flags().Int64Var(&opts.timestamp, "timestamp", 0,
		"Unix time in seconds (default: now)")

	_ = cmd.MarkFlagRequired("chat-id")
	_ = cmd.MarkFlagRequired("sender-name")

	return cmd
}
