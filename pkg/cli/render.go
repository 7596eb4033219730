package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailtmpl/mailtmpl/pkg/mail"
)

// newRenderCommand renders a template against a context and prints the
// resulting message fields without sending anything.
func newRenderCommand(rt *runtimeState) *cobra.Command {
	var (
		templateName string
		contextPairs []string
		subject      string
		body         string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a mail template and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if templateName == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Available templates:")
				for _, name := range sortedNames(rt.store) {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
				}
				return fmt.Errorf("--template is required")
			}

			ctx, err := parseContext(contextPairs)
			if err != nil {
				return err
			}

			msg, err := mail.NewMessage(rt.store, templateName, ctx, messageOptions(subject, body)...)
			if err != nil {
				return err
			}
			if err := msg.Render(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Subject: %s\n", msg.Subject)
			fmt.Fprintf(out, "Content-Type: text/%s\n\n", msg.Subtype)
			fmt.Fprintln(out, msg.Body)
			for _, alt := range msg.Alternatives {
				fmt.Fprintf(out, "\n--- alternative (%s) ---\n%s\n", alt.MIMEType, alt.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", "", "template name to render")
	cmd.Flags().StringArrayVar(&contextPairs, "set", nil, "context values as key=value (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "static subject used when the template has no subject block")
	cmd.Flags().StringVar(&body, "body", "", "static body used when the template has no body block")

	return cmd
}
