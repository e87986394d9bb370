package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxnode/internal/chat"
	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/internal/session"
	"github.com/MrWong99/voxnode/pkg/kv"
)

// newRelay builds the relay used by ask. Tests replace it.
var newRelay = func() *chat.Relay { return chat.NewRelay() }

func askCmd(c *cli) *cobra.Command {
	var (
		contextFile string
		draft       bool
		stream      bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a question about a text",
		Long: `Ask a question about a text. The context is read from --context-file
("-" for stdin), from the autosaved transcript with --draft, or else from the
latest entry of the current notebook.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			text, err := c.askContext(cmd, contextFile, draft)
			if err != nil {
				return err
			}

			relay := newRelay()
			out := cmd.OutOrStdout()
			if !stream {
				answer, err := relay.Ask(cmd.Context(), question, text, c.cfg.Chat)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, answer)
				return nil
			}

			printed := 0
			_, err = relay.AskStream(cmd.Context(), question, text, c.cfg.Chat, func(cumulative string) {
				if len(cumulative) > printed {
					io.WriteString(out, cumulative[printed:])
					printed = len(cumulative)
				}
			})
			fmt.Fprintln(out)
			return err
		},
	}
	cmd.Flags().StringVar(&contextFile, "context-file", "", "read the context text from a file, or \"-\" for stdin")
	cmd.Flags().BoolVar(&draft, "draft", false, "use the autosaved transcript draft as context")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it arrives")
	cmd.MarkFlagsMutuallyExclusive("context-file", "draft")
	return cmd
}

// askContext returns the text the question is about.
func (c *cli) askContext(cmd *cobra.Command, contextFile string, draft bool) (string, error) {
	if contextFile != "" {
		b, err := readInput(cmd.InOrStdin(), contextFile)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	var text string
	err := c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, s kv.Store) error {
		var err error
		if draft {
			text, err = readDraft(cmd.Context(), s)
			return err
		}
		nb, ok, err := nbs.Current(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no current notebook: pass --context-file or run 'voxnode notebook use'")
		}
		if len(nb.Entries) == 0 {
			return fmt.Errorf("notebook %s has no entries", nb.Name)
		}
		text = nb.Entries[len(nb.Entries)-1].Content
		return nil
	})
	return text, err
}

// readDraft returns the autosaved transcript, or an empty string when there
// is none.
func readDraft(ctx context.Context, s kv.Store) (string, error) {
	text, _, err := s.Get(ctx, session.DraftKey)
	if err != nil {
		return "", fmt.Errorf("read transcript draft: %w", err)
	}
	return text, nil
}
