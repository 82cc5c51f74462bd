package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newHandlersCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List the target handlers available for the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, c, err := openContainer(cmd, root)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close(ctx) }()

			type handlerJSON struct {
				Kind        string   `json:"kind"`
				Name        string   `json:"name"`
				Description string   `json:"description"`
				Sources     []string `json:"sources"`
			}
			var list []handlerJSON
			for _, h := range c.Handlers.List() {
				meta := h.Metadata()
				list = append(list, handlerJSON{Kind: string(meta.Kind), Name: meta.Name, Description: meta.Description, Sources: meta.Sources})
			}

			if root.json {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			p := newPrinter(cmd.OutOrStdout())
			rows := make([][]string, 0, len(list))
			tones := make([]tone, len(list))
			for _, h := range list {
				rows = append(rows, []string{h.Kind, h.Name, strings.Join(h.Sources, " > "), h.Description})
			}
			p.table([]string{"KIND", "HANDLER", "SOURCES", "DESCRIPTION"}, rows, tones, -1)
			return nil
		},
	}
}
