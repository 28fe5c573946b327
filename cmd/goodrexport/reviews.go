package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/goodreads-export/pkg/model"
)

func newReviewsCmd(a *app) *cobra.Command {
	var (
		source string
		noGlob bool
	)

	cmd := &cobra.Command{
		Use:   "reviews --source <file|glob>",
		Short: "List the reviews of the newest export document, ordered by date read.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := model.ExpandSources(source, noGlob)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				return fmt.Errorf("no export documents match %q", source)
			}

			dal, err := model.NewDAL(sources)
			if err != nil {
				return err
			}
			a.logger.Debug().
				Strs("sources", sources).
				Str("source", dal.Source()).
				Msg("Reading export document")

			reviews, err := dal.All()
			if err != nil {
				return err
			}
			model.SortByDateRead(reviews)

			renderReviews(cmd.OutOrStdout(), reviews)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "export document, or a glob such as 'exports/*.xml'")
	cmd.Flags().BoolVar(&noGlob, "no-glob", false, "treat --source literally")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func renderReviews(w io.Writer, reviews []model.Review) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Date read", "Title", "Authors", "Shelves"})
	for _, r := range reviews {
		read := "-"
		if r.Book.DateRead != nil {
			read = r.Book.DateRead.Format("2006-01-02")
		}
		t.AppendRow(table.Row{
			read,
			r.Book.Title,
			strings.Join(r.Book.Authors, ", "),
			strings.Join(r.Book.Shelves, ", "),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d reviews", len(reviews)), "", ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
