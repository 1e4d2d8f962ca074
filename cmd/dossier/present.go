package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dossier-ai/internal/apiclient"
	"dossier-ai/internal/domain"
)

func (c *cli) presentCmd() *cobra.Command {
	var (
		style    string
		theme    string
		noWatch  bool
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "present <draft-id>",
		Short: "Сгенерировать презентацию по черновику",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			draft, err := c.client.GetDraft(ctx, args[0])
			if err != nil {
				return fmt.Errorf("черновик: %w", err)
			}
			started, err := c.client.StartPresentation(ctx, apiclient.StartRequest{
				DraftID:       draft.ID,
				Outline:       draft.Outline,
				CitationStyle: domain.CitationStyle(style),
				Theme:         theme,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "презентация %s: %s\n", started.PresentationID, started.Status)
			if noWatch {
				fmt.Fprintln(cmd.OutOrStdout(), started.PresentationID)
				return nil
			}

			final, err := c.watch(cmd, started.PresentationID)
			if err != nil {
				return err
			}
			if final.Status == domain.PresentationFailed {
				return fmt.Errorf("генерация не удалась: %s", final.ErrorMessage)
			}
			if markdown {
				md, err := c.client.PresentationMarkdown(ctx, final.ID)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), final)
		},
	}
	cmd.Flags().StringVar(&style, "style", string(domain.CitationAPA), "стиль цитирования: apa, mla, chicago")
	cmd.Flags().StringVar(&theme, "theme", "", "тема оформления")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "не ждать завершения генерации")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "вывести результат в markdown")
	return cmd
}

// watch ждёт финального статуса презентации по потоку статусов.
func (c *cli) watch(cmd *cobra.Command, id string) (domain.Presentation, error) {
	var (
		last      domain.Presentation
		terminal  bool
		streamErr string
	)
	err := c.client.WatchPresentation(cmd.Context(), id, func(ev domain.Event) bool {
		switch ev.Type {
		case domain.EventStatus:
			if ev.Presentation != nil {
				last = *ev.Presentation
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "» %s\n", ev.Status)
			terminal = domain.PresentationStatus(ev.Status).Terminal()
			return !terminal
		case domain.EventError:
			streamErr = ev.Message
			return false
		}
		return true
	})
	if err != nil {
		return domain.Presentation{}, err
	}
	if streamErr != "" {
		return domain.Presentation{}, fmt.Errorf("поток статуса: %s", streamErr)
	}
	if !terminal {
		return domain.Presentation{}, fmt.Errorf("поток статуса закрыт до завершения генерации")
	}
	return last, nil
}
