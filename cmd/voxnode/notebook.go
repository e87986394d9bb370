package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxnode/internal/notebook"
	"github.com/MrWong99/voxnode/pkg/kv"
)

func notebookCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notebook",
		Aliases: []string{"nb"},
		Short:   "Manage notebooks of saved readings",
	}
	cmd.AddCommand(
		notebookListCmd(c),
		notebookCreateCmd(c),
		notebookShowCmd(c),
		notebookDeleteCmd(c),
		notebookAddCmd(c),
		notebookUseCmd(c),
	)
	return cmd
}

func notebookListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List notebooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, _ kv.Store) error {
				all, err := nbs.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(all) == 0 {
					fmt.Fprintln(out, "No notebooks yet. Use 'voxnode notebook create' to add one.")
					return nil
				}
				current, hasCurrent, err := nbs.Current(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\tID\tNAME\tENTRIES\tWORDS\tUPDATED")
				for _, nb := range all {
					mark := ""
					if hasCurrent && nb.ID == current.ID {
						mark = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
						mark, shortID(nb.ID), nb.Name, nb.TotalEntries, nb.TotalWords, nb.UpdatedAt.Local().Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
}

func notebookCreateCmd(c *cli) *cobra.Command {
	var (
		description string
		use         bool
	)
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a notebook",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, _ kv.Store) error {
				nb, err := nbs.Create(cmd.Context(), strings.Join(args, " "), description)
				if err != nil {
					return err
				}
				if use {
					if err := nbs.SetCurrent(cmd.Context(), nb.ID); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created notebook %s (%s)\n", nb.Name, shortID(nb.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "notebook description")
	cmd.Flags().BoolVar(&use, "use", false, "make the new notebook current")
	return cmd
}

func notebookShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a notebook and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, _ kv.Store) error {
				nb, err := resolveNotebook(cmd.Context(), nbs, args[0])
				if err != nil {
					return err
				}
				printNotebook(cmd.OutOrStdout(), nb)
				return nil
			})
		},
	}
}

func notebookDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a notebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, _ kv.Store) error {
				nb, err := resolveNotebook(cmd.Context(), nbs, args[0])
				if err != nil {
					return err
				}
				if err := nbs.Delete(cmd.Context(), nb.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted notebook %s (%s)\n", nb.Name, shortID(nb.ID))
				return nil
			})
		},
	}
}

func notebookAddCmd(c *cli) *cobra.Command {
	var (
		title string
		file  string
	)
	cmd := &cobra.Command{
		Use:   "add [id] [content...]",
		Short: "Add an entry to a notebook",
		Long:  "Add an entry to a notebook. The content is read from the arguments, from --file, or from stdin when --file is \"-\".",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			if file != "" {
				b, err := readInput(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				content = string(b)
			}
			return c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, _ kv.Store) error {
				nb, err := resolveNotebook(cmd.Context(), nbs, args[0])
				if err != nil {
					return err
				}
				if title == "" {
					title = notebook.DefaultTitle(c.cfg.Recognition.Language, nowFunc())
				}
				if _, err := nbs.AddEntry(cmd.Context(), nb.ID, title, content); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %q to %s (%d words)\n", title, nb.Name, notebook.CountWords(content))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "entry title (defaults to a dated label)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the content from a file, or \"-\" for stdin")
	return cmd
}

func notebookUseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "use [id]",
		Short: "Select the current notebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withNotebooks(cmd.Context(), func(nbs *notebook.Store, _ kv.Store) error {
				nb, err := resolveNotebook(cmd.Context(), nbs, args[0])
				if err != nil {
					return err
				}
				if err := nbs.SetCurrent(cmd.Context(), nb.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Current notebook: %s (%s)\n", nb.Name, shortID(nb.ID))
				return nil
			})
		},
	}
}

// resolveNotebook finds a notebook by full id or unique id prefix.
func resolveNotebook(ctx context.Context, nbs *notebook.Store, ref string) (notebook.Notebook, error) {
	if nb, ok, err := nbs.Get(ctx, ref); err != nil || ok {
		return nb, err
	}
	all, err := nbs.List(ctx)
	if err != nil {
		return notebook.Notebook{}, err
	}
	var matches []notebook.Notebook
	for _, nb := range all {
		if strings.HasPrefix(nb.ID, ref) {
			matches = append(matches, nb)
		}
	}
	switch len(matches) {
	case 0:
		return notebook.Notebook{}, fmt.Errorf("%w: %s", notebook.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return notebook.Notebook{}, fmt.Errorf("notebook id prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func printNotebook(w io.Writer, nb notebook.Notebook) {
	fmt.Fprintf(w, "%s  (%s)\n", nb.Name, nb.ID)
	if nb.Description != "" {
		fmt.Fprintln(w, nb.Description)
	}
	fmt.Fprintf(w, "%d entries, %d words\n", nb.TotalEntries, nb.TotalWords)
	for i, e := range nb.Entries {
		fmt.Fprintf(w, "\n[%d] %s · %s · %d words\n%s\n",
			i+1, e.Title, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.WordCount, e.Content)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
