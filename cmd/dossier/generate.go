package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dossier-ai/internal/apiclient"
	"dossier-ai/internal/domain"
	"dossier-ai/internal/generation"
)

func (c *cli) generateCmd() *cobra.Command {
	var (
		blocking bool
		asJSON   bool
		enhanced bool
	)
	cmd := &cobra.Command{
		Use:   "generate <запрос>",
		Short: "Построить план презентации по запросу",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			req := apiclient.OutlineRequest{OriginalPrompt: prompt}
			if enhanced {
				req = apiclient.OutlineRequest{EnhancedPrompt: prompt}
			}
			if blocking {
				return c.generateBlocking(cmd, req, asJSON)
			}
			return c.generateStream(cmd, req, asJSON)
		},
	}
	cmd.Flags().BoolVar(&blocking, "blocking", false, "дождаться результата без потока событий")
	cmd.Flags().BoolVar(&asJSON, "json", false, "вывести результат в JSON")
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "запрос уже уточнён, не вызывать уточнение")
	return cmd
}

func (c *cli) generateBlocking(cmd *cobra.Command, req apiclient.OutlineRequest, asJSON bool) error {
	res, err := c.client.GenerateOutline(cmd.Context(), req)
	var partial *apiclient.PartialOutlineError
	if errors.As(err, &partial) {
		c.log.Warn().Int("sources", len(partial.Research.Sources)).Msg("dossier: исследование выполнено, план не построен")
		return err
	}
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printOutline(cmd.OutOrStdout(), res.Outline)
	if res.DraftID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nчерновик: %s\n", res.DraftID)
	}
	return nil
}

func (c *cli) generateStream(cmd *cobra.Command, req apiclient.OutlineRequest, asJSON bool) error {
	progress := cmd.ErrOrStderr()
	store := generation.NewStore(newProgressPrinter(progress))

	err := c.client.StreamOutline(cmd.Context(), req, func(ev domain.Event) bool {
		store.Apply(ev)
		return !store.Snapshot().Status.Terminal()
	})
	if err != nil {
		return err
	}

	st := store.Snapshot()
	switch st.Status {
	case generation.StatusError:
		return fmt.Errorf("генерация прервана: %s", st.Error)
	case generation.StatusComplete:
	default:
		return fmt.Errorf("поток закрыт до завершения, состояние %s", st.Status)
	}
	if st.Outline == nil {
		return errors.New("сервер не вернул план")
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"draft_id":    st.DraftID,
			"outline":     st.Outline,
			"research":    st.Research,
			"token_usage": st.TokenUsage,
		})
	}
	printOutline(cmd.OutOrStdout(), *st.Outline)
	if st.DraftID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nчерновик: %s\n", st.DraftID)
	}
	return nil
}

// newProgressPrinter печатает изменения состояния: смену этапа, запросы, источники и слайды.
func newProgressPrinter(w io.Writer) func(generation.State) {
	var (
		status  generation.Status
		queries int
		sources int
		slides  int
	)
	return func(st generation.State) {
		if st.Status != status {
			status = st.Status
			fmt.Fprintf(w, "» %s\n", status)
		}
		for ; queries < len(st.Queries); queries++ {
			fmt.Fprintf(w, "  поиск: %s\n", st.Queries[queries])
		}
		for ; sources < len(st.Sources); sources++ {
			fmt.Fprintf(w, "  источник: %s (%s)\n", st.Sources[sources].Title, st.Sources[sources].Domain)
		}
		for ; slides < len(st.Slides); slides++ {
			fmt.Fprintf(w, "  слайд %d: %s\n", slides+1, st.Slides[slides].Title)
		}
	}
}
