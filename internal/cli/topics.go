package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "topics [TAG...]",
		Short: "Show the forum thread each tag routes to",
		Long: `Without arguments, topics lists every configured tag and its thread.
With tags, it resolves each one the way the broadcaster would, including
parent-prefix fallback. Dynamic topics may be created on first use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := buildStack(a.settings, a.log, "")
			defer st.close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			tags := args
			if len(tags) == 0 {
				tags = st.topics.Tags(ctx)
				if len(tags) == 0 {
					fmt.Fprintln(out, "No topics configured.")
					return nil
				}
			}
			for _, tag := range tags {
				if id, ok := st.topics.ThreadFor(ctx, tag); ok {
					fmt.Fprintf(out, "%s -> %d\n", tag, id)
				} else {
					fmt.Fprintf(out, "%s -> (none)\n", tag)
				}
			}
			return nil
		},
	}
}
