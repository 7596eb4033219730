package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailtmpl/mailtmpl/pkg/config"
	"github.com/mailtmpl/mailtmpl/pkg/mail"
	"github.com/mailtmpl/mailtmpl/pkg/templates"
)

type runtimeState struct {
	configPath string
	debug      bool

	cfg   config.Config
	store *templates.Store
	log   *zap.Logger
}

// NewRootCommand builds the mailtmpl command tree.
func NewRootCommand() *cobra.Command {
	rt := &runtimeState{}

	root := &cobra.Command{
		Use:          "mailtmpl",
		Short:        "Templated mail sender",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			if rt.debug {
				rt.log, err = zap.NewDevelopment()
			} else {
				rt.log, err = zap.NewProduction()
			}
			if err != nil {
				return err
			}

			rt.cfg, err = config.Load(rt.configPath)
			if err != nil {
				return err
			}
			if rt.debug {
				rt.cfg.Server.Debug = true
			}

			rt.store, err = templates.Load(os.DirFS(rt.cfg.Templates.Dir))
			if err != nil {
				return fmt.Errorf("loading templates from %s: %w", rt.cfg.Templates.Dir, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "path to the mailtmpl config file")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "enable debug logging")

	root.AddCommand(newRenderCommand(rt))
	root.AddCommand(newSendCommand(rt))
	root.AddCommand(newServeCommand(rt))
	root.AddCommand(newVersionCommand())

	return root
}

// parseContext turns repeated key=value flags into a render context.
func parseContext(pairs []string) (map[string]any, error) {
	ctx := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context value %q, expected key=value", pair)
		}
		ctx[key] = value
	}
	return ctx, nil
}

// messageOptions builds the construction options shared by render and send.
func messageOptions(subject, body string) []mail.Option {
	opts := []mail.Option{}
	if subject != "" {
		opts = append(opts, mail.WithSubject(subject))
	}
	if body != "" {
		opts = append(opts, mail.WithBody(body))
	}
	return opts
}

func sortedNames(store *templates.Store) []string {
	names := store.Names()
	sort.Strings(names)
	return names
}
