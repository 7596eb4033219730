package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailtmpl/mailtmpl/pkg/mail"
	"github.com/mailtmpl/mailtmpl/pkg/outbox"
)

// newSendCommand renders a template and sends it synchronously over SMTP,
// or hands it to the Kafka outbox for a remote worker to deliver.
func newSendCommand(rt *runtimeState) *cobra.Command {
	var (
		templateName string
		contextPairs []string
		subject      string
		body         string
		from         string
		fromName     string
		to           []string
		cc           []string
		bcc          []string
		attachments  []string
		viaOutbox    bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Render a mail template and send it over SMTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if templateName == "" {
				return fmt.Errorf("--template is required")
			}
			if len(to)+len(cc)+len(bcc) == 0 {
				return fmt.Errorf("at least one recipient is required")
			}

			ctx, err := parseContext(contextPairs)
			if err != nil {
				return err
			}

			opts := messageOptions(subject, body)
			if from != "" {
				opts = append(opts, mail.WithFrom(from, fromName))
			}
			opts = append(opts, mail.WithTo(to...))
			if len(cc) > 0 {
				opts = append(opts, mail.WithCc(cc...))
			}
			if len(bcc) > 0 {
				opts = append(opts, mail.WithBcc(bcc...))
			}
			for _, path := range attachments {
				opts = append(opts, mail.WithAttachment(path))
			}

			msg, err := mail.NewMessage(rt.store, templateName, ctx, opts...)
			if err != nil {
				return err
			}

			if viaOutbox {
				pub, err := outbox.NewPublisher(rt.cfg.Outbox, rt.log.Sugar())
				if err != nil {
					return err
				}
				defer pub.Close()
				if err := pub.Publish(cmd.Context(), msg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "published to outbox")
				return nil
			}

			sender := mail.NewSender(rt.cfg, rt.log.Sugar())
			sent, err := msg.Send(cmd.Context(), sender)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d message(s)\n", sent)
			return nil
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", "", "template name to render")
	cmd.Flags().StringArrayVar(&contextPairs, "set", nil, "context values as key=value (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "static subject used when the template has no subject block")
	cmd.Flags().StringVar(&body, "body", "", "static body used when the template has no body block")
	cmd.Flags().StringVar(&from, "from", "", "sender address (defaults to the configured sender)")
	cmd.Flags().StringVar(&fromName, "from-name", "", "sender display name")
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient addresses")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "carbon-copy addresses")
	cmd.Flags().StringSliceVar(&bcc, "bcc", nil, "blind-carbon-copy addresses")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "files to attach")
	cmd.Flags().BoolVar(&viaOutbox, "outbox", false, "publish to the Kafka outbox instead of sending directly")

	return cmd
}
