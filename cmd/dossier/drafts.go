package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dossier-ai/internal/domain"
	"dossier-ai/internal/generation"
)

func (c *cli) draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Работа с черновиками",
	}

	var limit int
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Последние черновики",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			drafts, err := c.client.ListDrafts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printDrafts(cmd.OutOrStdout(), drafts)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "сколько черновиков показать")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Показать черновик",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.client.GetDraft(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printOutline(cmd.OutOrStdout(), d.Outline)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "вывести в JSON")

	remove := &cobra.Command{
		Use:     "delete <draft-id>",
		Aliases: []string{"rm"},
		Short:   "Удалить черновик",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.DeleteDraft(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "черновик %s удалён\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}

func (c *cli) editCmd() *cobra.Command {
	var (
		title       string
		slideTitles []string
	)
	cmd := &cobra.Command{
		Use:   "edit <draft-id>",
		Short: "Изменить заголовок черновика или слайдов",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			draftID := args[0]
			saver := generation.NewAutosaver(c.client.UpdateDraft, generation.DefaultAutosaveDelay, c.log)

			if cmd.Flags().Changed("title") {
				t := strings.TrimSpace(title)
				saver.Schedule(draftID, domain.DraftPatch{Title: &t})
			}
			if len(slideTitles) > 0 {
				d, err := c.client.GetDraft(ctx, draftID)
				if err != nil {
					return err
				}
				outline := d.Outline
				for _, raw := range slideTitles {
					idx, text, err := parseSlideTitle(raw, len(outline.Slides))
					if err != nil {
						return err
					}
					outline.Slides[idx].Title = text
				}
				saver.Schedule(draftID, domain.DraftPatch{Outline: &outline})
			}
			if !saver.Pending() {
				return fmt.Errorf("нечего сохранять: укажите --title или --slide")
			}
			if err := saver.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "черновик %s сохранён\n", draftID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "новый заголовок черновика")
	cmd.Flags().StringArrayVar(&slideTitles, "slide", nil, "новый заголовок слайда в виде N=Заголовок, нумерация с 1")
	return cmd
}

func parseSlideTitle(raw string, count int) (int, string, error) {
	num, text, ok := strings.Cut(raw, "=")
	if !ok {
		return 0, "", fmt.Errorf("ожидали N=Заголовок, получили %q", raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil || n < 1 || n > count {
		return 0, "", fmt.Errorf("номер слайда должен быть от 1 до %d: %q", count, num)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("пустой заголовок слайда %d", n)
	}
	return n - 1, text, nil
}
